// Package usage implements the usage ledger: per-user, per-billing-period
// counters that gate metered feature calls against the user's plan limits.
//
// The only write path is Ledger.TryConsume, a conditional increment that is
// atomic with respect to the read-then-write race: two concurrent calls from
// the same user can never both succeed past the limit. The increment itself
// is pushed down into the CounterStore (a Lua script on Redis, a conditional
// UPDATE on Postgres, a mutex in memory) so the guarantee holds even with
// multiple engine processes sharing one store.
//
// Counters are keyed by (userID, periodKey), where the period key derives
// from the user's billing period start rather than the calendar month, since
// interval switches change the period length. Closed periods are never
// mutated again; a new period's counters start at zero and are created
// lazily on first use.
//
// Failed side effects must not cost quota: either call TryConsume only after
// the channel confirms success, or consume first and compensate with Refund.
package usage
