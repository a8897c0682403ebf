// Package catalog provides read-only access to the plan, pricing, and
// feature definitions the subscription engine validates against.
//
// The engine never administers the catalog: plans are loaded once from a
// Source (in-memory values or a YAML file) and served through the Provider
// interface. Pricing is immutable per subscription, so the catalog only
// needs point lookups: a plan by ID, a pricing option by plan+ID, a feature
// by plan+key.
//
// # Plans, pricing, features
//
// A Plan groups pricing options (billing terms expressed as a duration in
// days, where 0 means lifetime) and features (metered capabilities with an
// optional limit and a reset cadence). Feature limits are pointers: nil
// means unlimited.
//
//	plan := catalog.Plan{
//		ID:   "pro",
//		Name: "Professional",
//		Pricings: map[string]catalog.Pricing{
//			"pro-monthly": {ID: "pro-monthly", PlanID: "pro", DurationDays: 30, Active: true},
//		},
//		Features: map[string]catalog.Feature{
//			"api-calls": {Key: "api-calls", Limit: catalog.Limit(1000), Reset: catalog.ResetDaily},
//		},
//		Active: true,
//	}
//	provider := catalog.NewInMemProvider(plan)
//
// # Reset periods
//
// ResetPeriod carries the calendar arithmetic for usage windows: the start
// of the current period and the next reset boundary are methods on the
// enum, so callers never reimplement day/week/month/year truncation.
package catalog
