// Package subscription implements the subscription lifecycle engine: the
// status transition graph, the time window arithmetic for paid, trial and
// grace periods, and the lifecycle actions (subscribe, trial, renew, cancel,
// resume, expire, duplicate, change plan).
//
// Each action is one atomic unit of work: it validates, mutates and persists
// inside a single store transaction and publishes its domain events only
// after the transaction commits. Validation always re-runs inside the
// transaction so the check and the write cannot be separated by a concurrent
// mutation.
//
// The engine treats the plan catalog as a read-only collaborator
// (catalog.Provider), persistence as a Store with record-level locking, and
// event delivery as a fire-and-forget Sink. Feature metering lives in the
// usage package and plugs in through the UsageManager interface.
//
// Example:
//
//	store := subscription.NewMemoryStore()
//	engine := subscription.NewEngine(store, plans, subscription.DefaultConfig())
//
//	sub, err := engine.Subscribe(ctx,
//		subscription.SubscriberRef{Type: "user", ID: "42"},
//		"pro", "pro-monthly",
//		subscription.WithTrial(14),
//	)
package subscription
