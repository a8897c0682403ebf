package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/subkit/pkg/catalog"
	"github.com/dmitrymomot/subkit/pkg/config"
	"github.com/dmitrymomot/subkit/pkg/events"
	"github.com/dmitrymomot/subkit/pkg/pg"
	"github.com/dmitrymomot/subkit/pkg/postgres"
	"github.com/dmitrymomot/subkit/pkg/redis"
	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/usage"
)

// app wires the storage, catalog, event sinks, and domain services a command
// needs. Commands build it on demand so `subkit --help` works without a
// database.
type app struct {
	log     *slog.Logger
	pool    *pgxpool.Pool
	rdb     *goredis.Client
	subs    *postgres.SubscriptionStore
	records *postgres.UsageStore
	plans   catalog.Provider
	engine  *subscription.Engine
	ledger  *usage.Service
}

func newApp(ctx context.Context, log *slog.Logger, plansPath string) (*app, error) {
	var pgCfg pg.Config
	if err := config.Load(&pgCfg); err != nil {
		return nil, err
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		log:  log,
		pool: pool,
	}

	a.plans, err = catalog.LoadYAMLFile(plansPath)
	if err != nil {
		a.close()
		return nil, err
	}

	sinks := []subscription.Sink{events.NewSlogSink(log)}

	// Redis is optional: without REDIS_URL events stay in-process.
	var redisCfg redis.Config
	if err := config.Load(&redisCfg); err != nil {
		a.close()
		return nil, err
	}
	if redisCfg.ConnectionURL != "" {
		a.rdb, err = redis.Connect(ctx, redisCfg)
		if err != nil {
			a.close()
			return nil, err
		}
		sinks = append(sinks, events.NewRedisPublisher(a.rdb))
	}
	sink := events.Multi(sinks...)

	var subCfg subscription.Config
	if err := config.Load(&subCfg); err != nil {
		a.close()
		return nil, err
	}

	a.subs = postgres.NewSubscriptionStore(pool)
	a.records = postgres.NewUsageStore(pool)
	a.ledger = usage.NewService(a.records, a.subs, a.plans,
		usage.WithSink(sink),
		usage.WithLogger(log),
	)
	a.engine = subscription.NewEngine(a.subs, a.plans, subCfg,
		subscription.WithSink(sink),
		subscription.WithLogger(log),
		subscription.WithUsageManager(a.ledger),
	)

	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
