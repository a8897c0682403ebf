// Package events delivers subscription domain events to consumers.
//
// The engine and the usage service publish through the subscription.Sink
// interface; this package provides the sinks: an in-process Hub for
// same-binary consumers, a RedisPublisher for cross-service fan-out, a
// SlogSink for audit logging, and Multi to combine them.
//
//	hub := events.NewHub(64)
//	defer hub.Close()
//
//	engine := subscription.NewEngine(store, plans, cfg,
//		subscription.WithSink(events.Multi(hub, events.NewSlogSink(log))))
//
//	sub := hub.Subscribe(ctx)
//	for evt := range sub.Events() {
//		// react to lifecycle changes
//	}
package events
