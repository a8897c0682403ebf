// Package pg bootstraps the PostgreSQL layer: a pooled pgx/v5 connection
// with startup retries, embedded goose migrations, a readiness probe, and
// error classification helpers the store implementations map onto domain
// sentinels.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, postgres.Migrations, "migrations", log); err != nil {
//		return err
//	}
//
// Configuration comes from PG_* environment variables; see Config.
package pg
