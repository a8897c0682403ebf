package usage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/catalog"
	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/usage"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testProvider() catalog.Provider {
	return catalog.NewInMemProvider(catalog.Plan{
		ID:     "pro",
		Name:   "Pro",
		Active: true,
		Pricings: map[string]catalog.Pricing{
			"pro-monthly": {ID: "pro-monthly", PlanID: "pro", DurationDays: 30, Active: true},
		},
		Features: map[string]catalog.Feature{
			"ads": {Key: "ads", Limit: catalog.Limit(10), Reset: catalog.ResetDaily},
			"api": {Key: "api", Limit: catalog.Limit(100), Reset: catalog.ResetMonthly},
			"sso": {Key: "sso", Reset: catalog.ResetNever},
		},
	})
}

type captureSink struct {
	mu     sync.Mutex
	events []subscription.Event
}

func (s *captureSink) Publish(_ context.Context, events ...subscription.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *captureSink) last() subscription.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

// newFixture wires the engine and the ledger against shared in-memory
// stores, with the clock pinned to testNow.
func newFixture(t *testing.T) (*subscription.Engine, *usage.Service, *captureSink) {
	t.Helper()
	provider := testProvider()
	subStore := subscription.NewMemoryStore()
	sink := &captureSink{}
	clock := func() time.Time { return testNow }

	ledger := usage.NewService(usage.NewMemoryStore(), subStore, provider,
		usage.WithSink(sink), usage.WithClock(clock))
	engine := subscription.NewEngine(subStore, provider, subscription.DefaultConfig(),
		subscription.WithClock(clock), subscription.WithUsageManager(ledger))
	return engine, ledger, sink
}

func activeSub(t *testing.T, engine *subscription.Engine, id string) *subscription.Subscription {
	t.Helper()
	sub, err := engine.Subscribe(context.Background(), subscription.SubscriberRef{Type: "user", ID: id}, "pro", "pro-monthly")
	require.NoError(t, err)
	return sub
}

func TestConsume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("increments and stamps last used", func(t *testing.T) {
		t.Parallel()
		engine, ledger, sink := newFixture(t)
		sub := activeSub(t, engine, "u1")

		rec, err := ledger.Consume(ctx, sub.ID, "ads", 8)
		require.NoError(t, err)
		assert.Equal(t, int64(8), rec.Used)
		require.NotNil(t, rec.LastUsedAt)
		assert.Equal(t, testNow, *rec.LastUsedAt)
		require.NotNil(t, rec.ValidUntil, "daily feature carries a reset marker")
		assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), *rec.ValidUntil)

		used, ok := sink.last().(subscription.FeatureUsed)
		require.True(t, ok)
		assert.Equal(t, int64(8), used.Amount)
		assert.Equal(t, int64(8), used.Used)
	})

	t.Run("insufficient headroom fails without mutation", func(t *testing.T) {
		t.Parallel()
		engine, ledger, _ := newFixture(t)
		sub := activeSub(t, engine, "u2")

		_, err := ledger.Consume(ctx, sub.ID, "ads", 8)
		require.NoError(t, err)

		// limit 10, used 8: 5 must fail untouched, 2 must land exactly on it.
		_, err = ledger.Consume(ctx, sub.ID, "ads", 5)
		assert.ErrorIs(t, err, usage.ErrUsageExceeded)

		remaining, err := ledger.Remaining(ctx, sub.ID, "ads")
		require.NoError(t, err)
		require.NotNil(t, remaining)
		assert.Equal(t, int64(2), *remaining)

		rec, err := ledger.Consume(ctx, sub.ID, "ads", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(10), rec.Used)
		assert.Equal(t, testNow, *rec.LastUsedAt)
	})

	t.Run("unlimited features always succeed", func(t *testing.T) {
		t.Parallel()
		engine, ledger, _ := newFixture(t)
		sub := activeSub(t, engine, "u3")

		rec, err := ledger.Consume(ctx, sub.ID, "sso", 1_000_000)
		require.NoError(t, err)
		assert.Equal(t, int64(1_000_000), rec.Used)
		assert.Nil(t, rec.ValidUntil, "never-resetting feature has no marker")
	})

	t.Run("validation failures never reach the store", func(t *testing.T) {
		t.Parallel()
		engine, ledger, _ := newFixture(t)
		sub := activeSub(t, engine, "u4")

		_, err := ledger.Consume(ctx, sub.ID, "ads", 0)
		assert.ErrorIs(t, err, subscription.ErrNonPositiveAmount)

		_, err = ledger.Consume(ctx, sub.ID, "ads", -3)
		assert.ErrorIs(t, err, subscription.ErrNonPositiveAmount)

		_, err = ledger.Consume(ctx, sub.ID, "no spaces", 1)
		assert.ErrorIs(t, err, subscription.ErrInvalidFeatureKey)

		_, err = ledger.Consume(ctx, sub.ID, "unknown", 1)
		assert.ErrorIs(t, err, catalog.ErrFeatureNotFound)
	})

	t.Run("inactive status gates consumption", func(t *testing.T) {
		t.Parallel()
		engine, ledger, _ := newFixture(t)
		sub := activeSub(t, engine, "u5")

		_, err := engine.Cancel(ctx, sub.ID)
		require.NoError(t, err)

		_, err = ledger.Consume(ctx, sub.ID, "ads", 1)
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotActive)
	})

	t.Run("concurrent consumers never overshoot the limit", func(t *testing.T) {
		t.Parallel()
		engine, ledger, _ := newFixture(t)
		sub := activeSub(t, engine, "u6")

		// 50 goroutines, 1 unit each, limit 10: exactly 10 may win.
		var wg sync.WaitGroup
		var succeeded int64
		var mu sync.Mutex
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := ledger.Consume(ctx, sub.ID, "ads", 1); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(10), succeeded)
		remaining, err := ledger.Remaining(ctx, sub.ID, "ads")
		require.NoError(t, err)
		assert.Equal(t, int64(0), *remaining)
	})
}

func TestQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("HasFeature", func(t *testing.T) {
		t.Parallel()
		engine, ledger, _ := newFixture(t)
		sub := activeSub(t, engine, "q1")

		assert.True(t, ledger.HasFeature(ctx, sub.ID, "ads"))
		assert.False(t, ledger.HasFeature(ctx, sub.ID, "unknown"))
	})

	t.Run("FeatureValue", func(t *testing.T) {
		t.Parallel()
		engine, ledger, _ := newFixture(t)
		sub := activeSub(t, engine, "q2")

		limit, err := ledger.FeatureValue(ctx, sub.ID, "ads")
		require.NoError(t, err)
		require.NotNil(t, limit)
		assert.Equal(t, int64(10), *limit)

		unlimited, err := ledger.FeatureValue(ctx, sub.ID, "sso")
		require.NoError(t, err)
		assert.Nil(t, unlimited)
	})

	t.Run("Remaining treats missing record as zero usage", func(t *testing.T) {
		t.Parallel()
		engine, ledger, _ := newFixture(t)
		sub := activeSub(t, engine, "q3")

		remaining, err := ledger.Remaining(ctx, sub.ID, "ads")
		require.NoError(t, err)
		require.NotNil(t, remaining)
		assert.Equal(t, int64(10), *remaining)

		unlimited, err := ledger.Remaining(ctx, sub.ID, "sso")
		require.NoError(t, err)
		assert.Nil(t, unlimited)
	})

	t.Run("CanConsume", func(t *testing.T) {
		t.Parallel()
		engine, ledger, _ := newFixture(t)
		sub := activeSub(t, engine, "q4")

		ok, err := ledger.CanConsume(ctx, sub.ID, "ads", 10)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = ledger.CanConsume(ctx, sub.ID, "ads", 11)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = ledger.CanConsume(ctx, sub.ID, "unknown", 1)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = engine.Cancel(ctx, sub.ID)
		require.NoError(t, err)
		ok, err = ledger.CanConsume(ctx, sub.ID, "ads", 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, ledger, sink := newFixture(t)
	sub := activeSub(t, engine, "rs1")

	_, err := ledger.Consume(ctx, sub.ID, "ads", 7)
	require.NoError(t, err)

	rec, err := ledger.Reset(ctx, sub.ID, "ads")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Used)
	assert.Nil(t, rec.LastUsedAt)
	require.NotNil(t, rec.ValidUntil)

	reset, ok := sink.last().(subscription.FeatureUsageReset)
	require.True(t, ok)
	assert.Equal(t, int64(7), reset.OldUsed)
	assert.Equal(t, int64(0), reset.NewUsed)

	_, err = ledger.Reset(ctx, sub.ID, "never-used")
	assert.ErrorIs(t, err, usage.ErrRecordNotFound)
}

func TestDuplicateZeroesUsage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, ledger, _ := newFixture(t)
	sub := activeSub(t, engine, "dup1")

	_, err := ledger.Consume(ctx, sub.ID, "ads", 7)
	require.NoError(t, err)
	_, err = ledger.Consume(ctx, sub.ID, "api", 3)
	require.NoError(t, err)

	_, err = engine.Cancel(ctx, sub.ID)
	require.NoError(t, err)

	dup, err := engine.Duplicate(ctx, sub.ID)
	require.NoError(t, err)

	totals, err := ledger.TotalsByFeature(ctx, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ads": 0, "api": 0}, totals, "same keys, counters zeroed")

	// Source counters are untouched.
	srcTotals, err := ledger.TotalsByFeature(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ads": 7, "api": 3}, srcTotals)
}

func TestResetAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, ledger, _ := newFixture(t)
	sub := activeSub(t, engine, "ra1")

	_, err := ledger.Consume(ctx, sub.ID, "ads", 4)
	require.NoError(t, err)
	_, err = ledger.Consume(ctx, sub.ID, "api", 9)
	require.NoError(t, err)

	require.NoError(t, ledger.ResetAll(ctx, sub.ID))

	totals, err := ledger.TotalsByFeature(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ads": 0, "api": 0}, totals)
}
