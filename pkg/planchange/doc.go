// Package planchange decides how a requested plan transition applies and
// keeps the single pending-change record per user.
//
// Classification follows tier rank and billing interval: a move to a higher
// rank, or to a yearly interval at the same rank, applies immediately with
// proration; a move to a lower rank, or to a monthly interval at the same
// rank, defers to the end of the current billing period. Requesting the
// current plan and interval is a no-op.
//
// Ordering is commit-on-confirmation throughout: the service validates
// locally, calls the payment processor, and only mutates local state once
// the processor confirmed. A processor failure or timeout leaves local state
// untouched, so a half-applied change is unreachable rather than recovered.
//
// Applying a deferred change on its effective date is not done here and not
// driven by a timer; the event reconciler applies it when the processor's
// own billing-cycle event arrives, because the processor is the authority on
// exact timing and proration.
package planchange
