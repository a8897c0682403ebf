package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/subkit/pkg/config"
	"github.com/dmitrymomot/subkit/pkg/pg"
	"github.com/dmitrymomot/subkit/pkg/postgres"
	"github.com/dmitrymomot/subkit/pkg/sweep"
)

func newMigrateCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var cfg pg.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			pool, err := pg.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			return postgres.Migrate(ctx, pool, cfg, log)
		},
	}
}

// sweepFlags carries the per-run tuning shared by all sweep commands.
type sweepFlags struct {
	limit         int
	dryRun        bool
	concurrency   int
	recordTimeout time.Duration
	lookahead     time.Duration
}

func (f *sweepFlags) register(cmd *cobra.Command, withLookahead bool) {
	cmd.Flags().IntVar(&f.limit, "limit", 500, "maximum records per run")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "select and report candidates without mutating")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 1, "records processed in parallel")
	cmd.Flags().DurationVar(&f.recordTimeout, "record-timeout", 30*time.Second, "per-record processing timeout")
	if withLookahead {
		cmd.Flags().DurationVar(&f.lookahead, "lookahead", 24*time.Hour, "renew terms ending within this window")
	}
}

func (f *sweepFlags) options() []sweep.Option {
	opts := []sweep.Option{
		sweep.WithLimit(f.limit),
		sweep.WithConcurrency(f.concurrency),
		sweep.WithRecordTimeout(f.recordTimeout),
	}
	if f.dryRun {
		opts = append(opts, sweep.WithDryRun())
	}
	if f.lookahead > 0 {
		opts = append(opts, sweep.WithLookahead(f.lookahead))
	}
	return opts
}

// runSweep builds the app, executes the sweep, prints the JSON summary, and
// translates failed records into the exit-1 sentinel.
func runSweep(cmd *cobra.Command, log *slog.Logger, flags *sweepFlags,
	run func(ctx context.Context, a *app, opts ...sweep.Option) (sweep.Summary, error),
) error {
	ctx := cmd.Context()

	plansPath, err := cmd.Flags().GetString("plans")
	if err != nil {
		return err
	}

	a, err := newApp(ctx, log, plansPath)
	if err != nil {
		return err
	}
	defer a.close()

	sum, err := run(ctx, a, flags.options()...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return err
	}

	if !sum.Ok() {
		return errSweepFailed
	}
	return nil
}

func newRenewCmd(log *slog.Logger) *cobra.Command {
	var flags sweepFlags
	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Renew auto-renewing subscriptions about to lapse",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, log, &flags, func(ctx context.Context, a *app, opts ...sweep.Option) (sweep.Summary, error) {
				return sweep.NewRenewalSweeper(a.subs, a.engine, sweep.WithLogger(log)).Run(ctx, opts...)
			})
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newExpireCmd(log *slog.Logger) *cobra.Command {
	var flags sweepFlags
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire subscriptions whose term and grace period have lapsed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, log, &flags, func(ctx context.Context, a *app, opts ...sweep.Option) (sweep.Summary, error) {
				return sweep.NewExpirySweeper(a.subs, a.engine, sweep.WithLogger(log)).Run(ctx, opts...)
			})
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newResetUsageCmd(log *slog.Logger) *cobra.Command {
	var flags sweepFlags
	cmd := &cobra.Command{
		Use:   "reset-usage",
		Short: "Zero feature counters whose reset period rolled over",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, log, &flags, func(ctx context.Context, a *app, opts ...sweep.Option) (sweep.Summary, error) {
				return sweep.NewUsageResetSweeper(a.records, a.subs, a.plans, a.ledger, sweep.WithLogger(log)).Run(ctx, opts...)
			})
		},
	}
	flags.register(cmd, false)
	return cmd
}
