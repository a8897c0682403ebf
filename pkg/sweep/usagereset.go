package sweep

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/catalog"
	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/usage"
)

// Resetter zeroes a feature counter. *usage.Service satisfies it.
type Resetter interface {
	Reset(ctx context.Context, subID uuid.UUID, key string) (*usage.Record, error)
}

// UsageResetSweeper zeroes counters whose reset period has rolled over since
// their last activity. The store selects on each record's own reset marker
// (valid_until, stamped per the feature's period on every consumption), so a
// monthly counter touched last week is never pulled in while a daily one
// from yesterday is. Candidates the sweeper cannot act on get their marker
// rewritten, so a backlog of unresettable rows can never crowd genuinely due
// ones out of the capped selection.
type UsageResetSweeper struct {
	base
	records  usage.Store
	subs     subscription.Store
	catalog  catalog.Provider
	resetter Resetter
}

func NewUsageResetSweeper(records usage.Store, subs subscription.Store, provider catalog.Provider, resetter Resetter, opts ...SweeperOption) *UsageResetSweeper {
	if records == nil {
		panic("sweep: usage store is required")
	}
	if subs == nil {
		panic("sweep: subscription store is required")
	}
	if provider == nil {
		panic("sweep: catalog provider is required")
	}
	if resetter == nil {
		panic("sweep: resetter is required")
	}
	return &UsageResetSweeper{
		base:     newBase(opts),
		records:  records,
		subs:     subs,
		catalog:  provider,
		resetter: resetter,
	}
}

func (s *UsageResetSweeper) Run(ctx context.Context, opts ...Option) (Summary, error) {
	o := newOptions(opts)
	now := s.now()

	candidates, err := s.records.FindResetCandidates(ctx, now, o.limit)
	if err != nil {
		return Summary{}, err
	}

	var (
		jobs    []job
		skipped int
	)
	for _, rec := range candidates {
		rec := rec
		if until, ok := s.due(ctx, rec, now); !ok {
			skipped++
			if !o.dryRun {
				s.park(ctx, rec, until)
			}
			continue
		}
		jobs = append(jobs, job{
			subID: rec.SubscriptionID,
			key:   rec.FeatureKey,
			run: func(ctx context.Context) error {
				_, err := s.resetter.Reset(ctx, rec.SubscriptionID, rec.FeatureKey)
				return err
			},
		})
	}
	return s.run(ctx, o, jobs, skipped), nil
}

// due reports whether the record's counter belongs to a lapsed period. A
// candidate whose subscription is no longer active, or whose feature
// vanished from the plan, is quietly skipped rather than failed; the second
// return value carries the marker such a record should be parked on.
func (s *UsageResetSweeper) due(ctx context.Context, rec usage.Record, now time.Time) (*time.Time, bool) {
	sub, err := s.subs.Get(ctx, rec.SubscriptionID)
	if err != nil || !sub.IsActiveStatus() {
		return nil, false
	}
	feature, err := s.catalog.GetFeature(ctx, sub.PlanID, rec.FeatureKey)
	if err != nil {
		s.log.WarnContext(ctx, "reset candidate has no catalog feature, skipping",
			"subscription_id", rec.SubscriptionID,
			"plan_id", sub.PlanID,
			"feature", rec.FeatureKey)
		return nil, false
	}
	if !feature.Reset.Automatic() {
		return nil, false
	}
	if !rec.LastActivity().Before(feature.Reset.PeriodStart(now)) {
		// Already counting in the current period, usually a stale marker
		// from before the last consumption. Re-anchor it on that activity.
		if next, ok := feature.Reset.NextResetAt(rec.LastActivity()); ok {
			return &next, false
		}
		return nil, false
	}
	return nil, true
}

// park rewrites a skipped candidate's reset marker so it drops out of the
// next run's selection. A nil marker removes the record from sweeping until
// a consumption stamps a fresh one.
func (s *UsageResetSweeper) park(ctx context.Context, rec usage.Record, until *time.Time) {
	rec.ValidUntil = until
	if err := s.records.Save(ctx, &rec); err != nil {
		s.log.WarnContext(ctx, "failed to park reset candidate",
			"subscription_id", rec.SubscriptionID,
			"feature", rec.FeatureKey,
			"error", err)
	}
}
