// Package plan provides the read-only plan catalog for the billing engine.
//
// A Plan describes a subscription tier: per-feature usage limits, capability
// flags, and a price per billing interval. Plans are seeded by operators and
// treated as immutable by the rest of the engine; price edits never apply
// retroactively to existing subscribers.
//
// Limits are expressed with the Limit type, a proper sum of Limited(n) and
// Unlimited. Downstream code must never compare raw integers against a
// sentinel: a feature with a real zero limit behaves differently from an
// unlimited one.
//
// Two catalog sources ship with the package: an in-memory catalog for tests
// and embedded defaults, and a YAML file source for operator-managed plan
// tables.
//
// Example:
//
//	catalog, err := plan.NewYAMLCatalog("configs/plans.yml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	pro, err := catalog.Get(ctx, "pro")
//	if err != nil {
//		// plan.ErrPlanNotFound
//	}
//	limit := pro.Limit(plan.FeatureCalls)
package plan
