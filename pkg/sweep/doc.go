// Package sweep provides the periodic maintenance passes that keep the
// subscription dataset honest: renewing terms about to lapse, expiring
// subscriptions whose grace period has run out, and zeroing feature
// counters whose reset period rolled over.
//
// Each sweeper selects a bounded candidate batch, processes records under a
// configurable concurrency, and returns a Summary. Record failures are
// isolated and reported in the summary; a run only errors when candidate
// selection itself fails. Sweepers are stateless and safe to schedule from
// cron or a CLI:
//
//	sw := sweep.NewRenewalSweeper(store, engine)
//	sum, err := sw.Run(ctx, sweep.WithLookahead(12*time.Hour), sweep.WithLimit(200))
package sweep
