package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/subkit/pkg/logger"
)

// errSweepFailed marks a run that completed but left failed records; the
// process exits 1 so schedulers can alert without parsing the summary.
var errSweepFailed = errors.New("sweep finished with failed records")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.New(logger.WithService("subkit", os.Getenv("APP_ENV")))
	logger.SetAsDefault(log)

	root := newRootCmd(log)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errSweepFailed) {
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
}

func newRootCmd(log *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "subkit",
		Short:         "Subscription lifecycle and usage maintenance tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("plans", "plans.yaml", "path to the plan catalog file")

	root.AddCommand(
		newMigrateCmd(log),
		newRenewCmd(log),
		newExpireCmd(log),
		newResetUsageCmd(log),
	)
	return root
}
