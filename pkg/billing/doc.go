// Package billing is the engine's boundary with the external payment
// processor. The processor is the source of truth for money movement:
// proration math, charge timing, and the exact moment a scheduled change
// takes effect all live on its side.
//
// The Provider interface covers the synchronous calls the plan-change
// service needs (charge-and-prorate, schedule a change at period end, undo
// a scheduled change, portal sessions) plus webhook parsing, which verifies
// the delivery signature and normalizes the processor's payload into a
// WebhookEvent for the reconciler.
//
// Provider calls are blocking network calls that may fail or time out.
// Callers must treat them as long-running and must not mutate local state
// until the provider confirms — commit-on-confirmation, never
// commit-then-confirm.
package billing
