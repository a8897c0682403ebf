package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RecordError is one record's failure inside a batch.
type RecordError struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	FeatureKey     string    `json:"feature_key,omitempty"`
	Err            string    `json:"error"`
}

// Summary is the aggregate outcome of one sweep run. A partial failure is
// reported here, never raised: Run returns an error only when candidate
// selection itself fails.
type Summary struct {
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	DryRun    bool          `json:"dry_run"`
	Errors    []RecordError `json:"errors,omitempty"`
}

// Ok reports whether every processed record succeeded or was skipped.
func (s Summary) Ok() bool {
	return s.Failed == 0
}

// Option tunes a single sweep run.
type Option func(*options)

type options struct {
	limit         int
	dryRun        bool
	recordTimeout time.Duration
	concurrency   int
	lookahead     time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		limit:       500,
		concurrency: 1,
		lookahead:   24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLimit caps the candidate set. Defaults to 500.
func WithLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.limit = n
		}
	}
}

// WithDryRun selects and reports candidates without mutating anything.
func WithDryRun() Option {
	return func(o *options) {
		o.dryRun = true
	}
}

// WithRecordTimeout bounds each record's processing time. A timed-out
// record counts as failed; the batch continues.
func WithRecordTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.recordTimeout = d
		}
	}
}

// WithConcurrency processes up to n records in parallel. Defaults to 1.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLookahead sets how far ahead of now the renewal sweeper looks for
// terms about to lapse. Defaults to 24h. Ignored by the other sweepers.
func WithLookahead(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lookahead = d
		}
	}
}

// SweeperOption configures a sweeper instance.
type SweeperOption func(*base)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) SweeperOption {
	return func(b *base) {
		if log != nil {
			b.log = log
		}
	}
}

// WithClock overrides the time source. Tests pin it to a fixed instant.
func WithClock(now func() time.Time) SweeperOption {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

type base struct {
	log *slog.Logger
	now func() time.Time
}

func newBase(opts []SweeperOption) base {
	b := base{
		log: slog.Default(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// job is one record to process. The failure unit of every sweep is the
// individual job: an error (or panic) is counted and logged, never allowed
// to stop the remaining candidates.
type job struct {
	subID uuid.UUID
	key   string
	run   func(ctx context.Context) error
}

// run executes the jobs under the configured concurrency. preSkipped counts
// candidates the sweeper filtered out before building jobs.
func (b base) run(ctx context.Context, o options, jobs []job, preSkipped int) Summary {
	sum := Summary{
		Processed: len(jobs) + preSkipped,
		Skipped:   preSkipped,
		DryRun:    o.dryRun,
	}
	if o.dryRun {
		sum.Skipped = sum.Processed
		return sum
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			err := b.runJob(ctx, o, j)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
				sum.Errors = append(sum.Errors, RecordError{
					SubscriptionID: j.subID,
					FeatureKey:     j.key,
					Err:            err.Error(),
				})
			} else {
				sum.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()
	return sum
}

func (b base) runJob(ctx context.Context, o options, j job) (err error) {
	if o.recordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.recordTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing record: %v", r)
		}
		if err != nil {
			attrs := []any{"subscription_id", j.subID, "error", err}
			if j.key != "" {
				attrs = append(attrs, "feature", j.key)
			}
			b.log.ErrorContext(ctx, "sweep record failed", attrs...)
		}
	}()
	return j.run(ctx)
}
