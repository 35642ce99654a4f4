// Package subscription holds the authoritative per-user subscription state
// and the primitives the rest of the engine uses to mutate it safely.
//
// Every user has exactly one Subscription row: effective plan, status,
// billing interval, current period bounds, and the payment processor's
// customer reference. The row is never deleted; cancellation is the
// soft-terminal StatusCanceled.
//
// Two writers exist for this state, the plan-change service (user-initiated
// immediate upgrades) and the event reconciler (everything the processor
// confirms asynchronously). They are serialized per user through Locker, and
// every committed mutation bumps the row's Version so stale writes and stale
// provider events are detectable.
package subscription
