package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/catalog"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// Service is the usage ledger: per-subscription, per-feature counters
// metered against the plan's limits and reset cadences. It implements the
// engine's UsageManager contract.
type Service struct {
	store   Store
	subs    subscription.Store
	catalog catalog.Provider
	sink    subscription.Sink
	log     *slog.Logger
	now     func() time.Time
}

// NewService constructs the ledger. Panics on nil collaborators to fail
// fast on wiring mistakes.
func NewService(store Store, subs subscription.Store, provider catalog.Provider, opts ...Option) *Service {
	if store == nil {
		panic("usage: Store is required")
	}
	if subs == nil {
		panic("usage: subscription.Store is required")
	}
	if provider == nil {
		panic("usage: catalog.Provider is required")
	}

	s := &Service{
		store:   store,
		subs:    subs,
		catalog: provider,
		sink:    subscription.NopSink{},
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasFeature reports whether the subscription's plan defines the key.
// Returns false on any lookup error to fail closed.
func (s *Service) HasFeature(ctx context.Context, subID uuid.UUID, key string) bool {
	_, _, err := s.feature(ctx, subID, key)
	return err == nil
}

// FeatureValue returns the plan's limit for the key; nil means unlimited.
func (s *Service) FeatureValue(ctx context.Context, subID uuid.UUID, key string) (*int64, error) {
	_, feature, err := s.feature(ctx, subID, key)
	if err != nil {
		return nil, err
	}
	return feature.Limit, nil
}

// Remaining returns the headroom left for the key: nil when unlimited,
// otherwise max(0, limit-used). A missing record reads as zero usage.
func (s *Service) Remaining(ctx context.Context, subID uuid.UUID, key string) (*int64, error) {
	_, feature, err := s.feature(ctx, subID, key)
	if err != nil {
		return nil, err
	}
	if feature.IsUnlimited() {
		return nil, nil
	}

	used, err := s.usedAmount(ctx, subID, key)
	if err != nil {
		return nil, err
	}
	remaining := max(0, *feature.Limit-used)
	return &remaining, nil
}

// CanConsume reports whether consuming amount would succeed right now:
// the feature must exist, the subscription must be in an active status and
// the limit must leave headroom. The answer is advisory; Consume re-checks
// under the store's serialization.
func (s *Service) CanConsume(ctx context.Context, subID uuid.UUID, key string, amount int64) (bool, error) {
	if err := subscription.ValidateFeatureKey(key); err != nil {
		return false, err
	}
	if err := subscription.ValidateAmount(amount); err != nil {
		return false, err
	}

	sub, feature, err := s.feature(ctx, subID, key)
	if err != nil {
		if isBusinessNo(err) {
			return false, nil
		}
		return false, err
	}
	if !sub.IsActiveStatus() {
		return false, nil
	}
	if feature.IsUnlimited() {
		return true, nil
	}

	used, err := s.usedAmount(ctx, subID, key)
	if err != nil {
		return false, err
	}
	return used+amount <= *feature.Limit, nil
}

// Consume validates and atomically increments the counter, stamping the
// last-used time. Validation failures and exceeded limits never mutate the
// record.
func (s *Service) Consume(ctx context.Context, subID uuid.UUID, key string, amount int64) (*Record, error) {
	if err := subscription.ValidateFeatureKey(key); err != nil {
		return nil, err
	}
	if err := subscription.ValidateAmount(amount); err != nil {
		return nil, err
	}

	sub, feature, err := s.feature(ctx, subID, key)
	if err != nil {
		return nil, err
	}
	if !sub.IsActiveStatus() {
		return nil, subscription.ErrSubscriptionNotActive
	}

	now := s.now()
	rec, err := s.store.Consume(ctx, subID, key, amount, feature.Limit, now, resetMarker(feature.Reset, now))
	if err != nil {
		return nil, err
	}

	s.publish(ctx, subscription.FeatureUsed{
		EventBase:  eventBase(sub, now),
		FeatureKey: key,
		Amount:     amount,
		Used:       rec.Used,
	})
	return rec, nil
}

// Reset zeroes the counter, clears the last-used stamp and advances the
// reset marker, emitting an audit event carrying the old and new values.
func (s *Service) Reset(ctx context.Context, subID uuid.UUID, key string) (*Record, error) {
	if err := subscription.ValidateFeatureKey(key); err != nil {
		return nil, err
	}
	sub, err := s.subs.Get(ctx, subID)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Get(ctx, subID, key)
	if err != nil {
		return nil, err
	}

	now := s.now()
	oldUsed := rec.Used
	rec.Used = 0
	rec.LastUsedAt = nil
	rec.UpdatedAt = now
	if feature, ferr := s.catalog.GetFeature(ctx, sub.PlanID, key); ferr == nil {
		rec.ValidUntil = resetMarker(feature.Reset, now)
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}

	s.publish(ctx, subscription.FeatureUsageReset{
		EventBase:  eventBase(sub, now),
		FeatureKey: key,
		OldUsed:    oldUsed,
		NewUsed:    0,
	})
	return rec.Clone(), nil
}

// ResetAll zeroes every counter of the subscription.
func (s *Service) ResetAll(ctx context.Context, subID uuid.UUID) error {
	records, err := s.store.List(ctx, subID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if _, err := s.Reset(ctx, subID, rec.FeatureKey); err != nil {
			return err
		}
	}
	return nil
}

// CopyForDuplicate recreates the source subscription's usage records under
// dst with counters zeroed and reset markers computed from anchor. Features
// that vanished from the plan are skipped.
func (s *Service) CopyForDuplicate(ctx context.Context, src, dst uuid.UUID, anchor time.Time) error {
	dstSub, err := s.subs.Get(ctx, dst)
	if err != nil {
		return err
	}
	records, err := s.store.List(ctx, src)
	if err != nil {
		return err
	}

	for _, rec := range records {
		feature, err := s.catalog.GetFeature(ctx, dstSub.PlanID, rec.FeatureKey)
		if err != nil {
			s.log.WarnContext(ctx, "skipping usage copy for unknown feature",
				"subscription_id", dst, "feature", rec.FeatureKey, "error", err)
			continue
		}
		fresh := &Record{
			SubscriptionID: dst,
			FeatureKey:     rec.FeatureKey,
			Used:           0,
			ValidUntil:     resetMarker(feature.Reset, anchor),
			CreatedAt:      anchor,
			UpdatedAt:      anchor,
		}
		if err := s.store.Save(ctx, fresh); err != nil {
			return err
		}
	}
	return nil
}

// TotalsByFeature returns the current counter per feature key.
func (s *Service) TotalsByFeature(ctx context.Context, subID uuid.UUID) (map[string]int64, error) {
	records, err := s.store.List(ctx, subID)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64, len(records))
	for _, rec := range records {
		totals[rec.FeatureKey] = rec.Used
	}
	return totals, nil
}

// feature loads the subscription and the plan feature behind the key.
func (s *Service) feature(ctx context.Context, subID uuid.UUID, key string) (*subscription.Subscription, *catalog.Feature, error) {
	sub, err := s.subs.Get(ctx, subID)
	if err != nil {
		return nil, nil, err
	}
	feature, err := s.catalog.GetFeature(ctx, sub.PlanID, key)
	if err != nil {
		return nil, nil, err
	}
	return sub, feature, nil
}

func (s *Service) usedAmount(ctx context.Context, subID uuid.UUID, key string) (int64, error) {
	rec, err := s.store.Get(ctx, subID, key)
	switch {
	case err == nil:
		return rec.Used, nil
	case isNotFound(err):
		return 0, nil
	default:
		return 0, err
	}
}

func (s *Service) publish(ctx context.Context, evt subscription.Event) {
	if err := s.sink.Publish(ctx, evt); err != nil {
		s.log.ErrorContext(ctx, "failed to publish usage event",
			"event", evt.EventName(), "subscription_id", evt.SubscriptionID(), "error", err)
	}
}

// resetMarker returns the next automatic reset boundary after from, or nil
// for features that never reset.
func resetMarker(period catalog.ResetPeriod, from time.Time) *time.Time {
	next, ok := period.NextResetAt(from)
	if !ok {
		return nil
	}
	return &next
}

func eventBase(sub *subscription.Subscription, at time.Time) subscription.EventBase {
	return subscription.EventBase{SubID: sub.ID, Subscriber: sub.Subscriber, At: at}
}
