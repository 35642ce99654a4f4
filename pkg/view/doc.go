// Package view assembles the read model other services render from: the
// user's current plan, lifecycle status, period bounds, per-feature usage,
// and any scheduled plan change, in one call.
//
// The facade never blocks on the payment provider. It reads local state
// only, after an opportunistic usage-period rollover, so a stale renewal
// webhook cannot make an expired period's numbers leak into the response.
package view
