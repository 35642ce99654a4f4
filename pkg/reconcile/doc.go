// Package reconcile applies the payment processor's asynchronous event
// stream to local subscription state. The processor delivers at least once
// and in no particular order; this package is what turns that stream into
// exactly-once, order-tolerant effects.
//
// Three mechanisms carry the guarantees:
//
//   - Dedup by external event ID. Every successfully handled event is
//     recorded in an append-only audit log; a redelivery of the same ID is
//     acknowledged as a duplicate with no further effect.
//
//   - Ordering by event-carried time, never arrival time. Subscription rows
//     remember the "effective as of" marker of the last applied event; an
//     event at or before that marker is stale and applies as a no-op.
//
//   - Per-user serialization. The reconciler takes the same per-user lock
//     as the plan-change service, so two concurrently delivered webhooks for
//     one user can't race on the row, and the reconciler can't race a
//     user-initiated upgrade.
//
// The reconciler is the only component allowed to complete a pending plan
// change: it reacts to the processor's billing-cycle event rather than a
// local timer, because the processor is the authority on exact timing.
//
// Events that cannot be attributed (unknown user, unrecognized type) are
// integrity violations: the apply fails with the full payload logged for
// manual replay, the event is not recorded as processed, and the caller
// keeps serving other events.
package reconcile
