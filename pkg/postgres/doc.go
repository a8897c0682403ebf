// Package postgres implements the subscription and usage stores on
// PostgreSQL via pgx/v5, and carries the schema as embedded goose
// migrations.
//
// The subscription store relies on three database mechanisms: row locks
// (GetForUpdate) serialize lifecycle actions per subscription, a
// per-subscriber advisory lock serializes creations so the
// one-active-subscription check cannot race, and a partial unique index
// backstops that invariant. The usage store folds the limit check and the
// increment into one conditional upsert, which keeps concurrent consumption
// from overshooting a feature limit.
package postgres
