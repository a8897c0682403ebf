// Package usage is the feature-usage metering ledger: one counter per
// (subscription, feature key) pair, validated against the plan's limits and
// zeroed on the feature's reset cadence.
//
// The consume path is serialized per record inside the Store so that two
// concurrent calls can never jointly overshoot a limit; the Service only
// performs the stateless validation (key shape, amount sign, active status,
// feature existence) before delegating to the atomic store operation.
//
// The Service also implements the subscription engine's UsageManager
// contract (duplicate copying, bulk reset, totals for downgrade checks).
package usage
