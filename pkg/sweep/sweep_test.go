package sweep_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/catalog"
	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/sweep"
	"github.com/dmitrymomot/subkit/pkg/usage"
)

var testNow = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func sweepPlans() []catalog.Plan {
	return []catalog.Plan{
		{
			ID:     "pro",
			Name:   "Pro",
			Active: true,
			Pricings: map[string]catalog.Pricing{
				"pro-monthly":  {ID: "pro-monthly", PlanID: "pro", DurationDays: 30, Active: true},
				"pro-lifetime": {ID: "pro-lifetime", PlanID: "pro", DurationDays: 0, Active: true},
			},
			Features: map[string]catalog.Feature{
				"ads": {Key: "ads", Limit: catalog.Limit(10), Reset: catalog.ResetDaily},
				"api": {Key: "api", Limit: catalog.Limit(100), Reset: catalog.ResetMonthly},
			},
		},
	}
}

type fixture struct {
	subs     *subscription.MemoryStore
	records  *usage.MemoryStore
	provider catalog.Provider
	engine   *subscription.Engine
	ledger   *usage.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	subs := subscription.NewMemoryStore()
	records := usage.NewMemoryStore()
	provider := catalog.NewInMemProvider(sweepPlans()...)
	clock := func() time.Time { return testNow }
	engine := subscription.NewEngine(subs, provider, subscription.DefaultConfig(),
		subscription.WithClock(clock))
	ledger := usage.NewService(records, subs, provider, usage.WithClock(clock))
	return &fixture{subs: subs, records: records, provider: provider, engine: engine, ledger: ledger}
}

func (f *fixture) sub(t *testing.T, mutate func(*subscription.Subscription)) *subscription.Subscription {
	t.Helper()
	starts := testNow.AddDate(0, 0, -20)
	ends := testNow.AddDate(0, 0, 10)
	sub := &subscription.Subscription{
		ID:         uuid.New(),
		Subscriber: subscription.SubscriberRef{Type: "user", ID: uuid.NewString()},
		PlanID:     "pro",
		PricingID:  "pro-monthly",
		Status:     subscription.StatusActive,
		AutoRenew:  true,
		StartsAt:   &starts,
		EndsAt:     &ends,
		CreatedAt:  starts,
		UpdatedAt:  starts,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, f.subs.Create(context.Background(), sub))
	return sub
}

func endsIn(d time.Duration) func(*subscription.Subscription) {
	return func(s *subscription.Subscription) {
		ends := testNow.Add(d)
		s.EndsAt = &ends
	}
}

func TestRenewalSweeper(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	due := f.sub(t, endsIn(10*time.Hour))
	farOut := f.sub(t, endsIn(48*time.Hour))
	optedOut := f.sub(t, func(s *subscription.Subscription) {
		endsIn(10 * time.Hour)(s)
		s.AutoRenew = false
	})
	lifetime := f.sub(t, func(s *subscription.Subscription) { s.EndsAt = nil })
	orphaned := f.sub(t, func(s *subscription.Subscription) {
		endsIn(10 * time.Hour)(s)
		s.PlanID = "gone"
		s.PricingID = "gone-monthly"
	})

	sw := sweep.NewRenewalSweeper(f.subs, f.engine, sweep.WithClock(func() time.Time { return testNow }))

	// A dry run reports the candidate set without touching it.
	sum, err := sw.Run(ctx, sweep.WithDryRun())
	require.NoError(t, err)
	assert.Equal(t, sweep.Summary{Processed: 2, Skipped: 2, DryRun: true}, sum)
	got, err := f.subs.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(10*time.Hour), *got.EndsAt, "dry run must not renew")

	sum, err = sw.Run(ctx, sweep.WithConcurrency(4))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.False(t, sum.Ok())
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, orphaned.ID, sum.Errors[0].SubscriptionID)

	// The healthy candidate got a fresh term anchored at its old end.
	got, err = f.subs.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(10*time.Hour).AddDate(0, 0, 30), *got.EndsAt)

	// The orphan keeps its old window so a catalog fix can still save it.
	got, err = f.subs.Get(ctx, orphaned.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(10*time.Hour), *got.EndsAt)

	for _, untouched := range []*subscription.Subscription{farOut, optedOut, lifetime} {
		got, err := f.subs.Get(ctx, untouched.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, got.Status)
	}
}

func TestRenewalSweeperLookahead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	f.sub(t, endsIn(10*time.Hour))
	f.sub(t, endsIn(48*time.Hour))

	sw := sweep.NewRenewalSweeper(f.subs, f.engine, sweep.WithClock(func() time.Time { return testNow }))

	sum, err := sw.Run(ctx, sweep.WithLookahead(72*time.Hour), sweep.WithDryRun())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed, "wider lookahead pulls in the later term")

	sum, err = sw.Run(ctx, sweep.WithLookahead(time.Hour), sweep.WithDryRun())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed, "narrow lookahead sees nothing due")
}

func TestExpirySweeper(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	graceLapsed := f.sub(t, func(s *subscription.Subscription) {
		ends := testNow.AddDate(0, 0, -5)
		grace := testNow.AddDate(0, 0, -2)
		s.EndsAt = &ends
		s.GraceEndsAt = &grace
	})
	noGraceLapsed := f.sub(t, endsIn(-time.Minute))
	inGrace := f.sub(t, func(s *subscription.Subscription) {
		ends := testNow.AddDate(0, 0, -1)
		grace := testNow.AddDate(0, 0, 2)
		s.EndsAt = &ends
		s.GraceEndsAt = &grace
	})
	lifetime := f.sub(t, func(s *subscription.Subscription) { s.EndsAt = nil })

	sw := sweep.NewExpirySweeper(f.subs, f.engine, sweep.WithClock(func() time.Time { return testNow }))

	sum, err := sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 2, sum.Succeeded)
	assert.True(t, sum.Ok())

	for _, id := range []uuid.UUID{graceLapsed.ID, noGraceLapsed.ID} {
		got, err := f.subs.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusExpired, got.Status)
	}
	for _, id := range []uuid.UUID{inGrace.ID, lifetime.ID} {
		got, err := f.subs.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, got.Status)
	}

	// Expired subscriptions drop out of the candidate set: re-running does
	// nothing.
	sum, err = sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Summary{}, sum)
}

func TestUsageResetSweeper(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	active := f.sub(t, nil)
	canceled := f.sub(t, func(s *subscription.Subscription) {
		s.Status = subscription.StatusCanceled
		at := testNow.AddDate(0, 0, -3)
		s.CanceledAt = &at
	})
	fresh := f.sub(t, nil)

	// Daily counter last touched yesterday evening: its marker has lapsed.
	saveUsage(t, f, active.ID, "ads", 5,
		time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC), time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	// Monthly counter touched this month carries a future marker and is
	// never even selected; last month's rolls over.
	saveUsage(t, f, active.ID, "api", 40,
		time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	saveUsage(t, f, fresh.ID, "api", 70,
		time.Date(2025, 2, 20, 8, 0, 0, 0, time.UTC), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	// Counters on inactive subscriptions and for vanished features are
	// skipped, not failed.
	saveUsage(t, f, canceled.ID, "ads", 9,
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	saveUsage(t, f, active.ID, "legacy-export", 2,
		time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC))

	sw := sweep.NewUsageResetSweeper(f.records, f.subs, f.provider, f.ledger,
		sweep.WithClock(func() time.Time { return testNow }))

	// A dry run reports the candidate set without resetting or parking.
	sum, err := sw.Run(ctx, sweep.WithDryRun())
	require.NoError(t, err)
	assert.Equal(t, sweep.Summary{Processed: 4, Skipped: 4, DryRun: true}, sum)
	rec, err := f.records.Get(ctx, canceled.ID, "ads")
	require.NoError(t, err)
	assert.NotNil(t, rec.ValidUntil, "dry run must not park candidates")

	sum, err = sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Processed)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 2, sum.Skipped)
	assert.True(t, sum.Ok())

	rec, err = f.records.Get(ctx, active.ID, "ads")
	require.NoError(t, err)
	assert.Zero(t, rec.Used)

	rec, err = f.records.Get(ctx, fresh.ID, "api")
	require.NoError(t, err)
	assert.Zero(t, rec.Used)

	rec, err = f.records.Get(ctx, active.ID, "api")
	require.NoError(t, err)
	assert.Equal(t, int64(40), rec.Used, "current-period counter must survive the sweep")

	// The skipped counters keep their value but lose the marker, so they
	// stop occupying the candidate set.
	rec, err = f.records.Get(ctx, canceled.ID, "ads")
	require.NoError(t, err)
	assert.Equal(t, int64(9), rec.Used)
	assert.Nil(t, rec.ValidUntil)

	// Reset and parked counters alike drop out of the next run.
	sum, err = sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Summary{}, sum)
}

func TestUsageResetSweeperBacklogProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	canceled := f.sub(t, func(s *subscription.Subscription) {
		s.Status = subscription.StatusCanceled
	})
	active := f.sub(t, nil)

	// The unresettable counter sits at the head of the capped selection.
	saveUsage(t, f, canceled.ID, "ads", 9,
		time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC))
	saveUsage(t, f, active.ID, "ads", 5,
		time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC), time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	sw := sweep.NewUsageResetSweeper(f.records, f.subs, f.provider, f.ledger,
		sweep.WithClock(func() time.Time { return testNow }))

	sum, err := sw.Run(ctx, sweep.WithLimit(1))
	require.NoError(t, err)
	assert.Equal(t, sweep.Summary{Processed: 1, Skipped: 1}, sum)

	// Parking freed the slot: the second capped run reaches the due counter.
	sum, err = sw.Run(ctx, sweep.WithLimit(1))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)

	rec, err := f.records.Get(ctx, active.ID, "ads")
	require.NoError(t, err)
	assert.Zero(t, rec.Used)
}

func saveUsage(t *testing.T, f *fixture, subID uuid.UUID, key string, used int64, lastUsed, validUntil time.Time) {
	t.Helper()
	require.NoError(t, f.records.Save(context.Background(), &usage.Record{
		SubscriptionID: subID,
		FeatureKey:     key,
		Used:           used,
		LastUsedAt:     &lastUsed,
		ValidUntil:     &validUntil,
		CreatedAt:      lastUsed,
		UpdatedAt:      lastUsed,
	}))
}

func TestSweepRecordPanicIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	f.sub(t, endsIn(10*time.Hour))
	f.sub(t, endsIn(12*time.Hour))

	sw := sweep.NewRenewalSweeper(f.subs, panicRenewer{}, sweep.WithClock(func() time.Time { return testNow }))
	sum, err := sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 2, sum.Failed)
	for _, re := range sum.Errors {
		assert.Contains(t, re.Err, "panic")
	}
}

type panicRenewer struct{}

func (panicRenewer) Renew(context.Context, uuid.UUID) (*subscription.Subscription, error) {
	panic("renewal backend exploded")
}
