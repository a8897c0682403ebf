package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type recordKey struct {
	subID uuid.UUID
	key   string
}

// MemoryStore is an in-memory Store for tests and local development. One
// mutex serializes every operation, which trivially satisfies the Consume
// contract: the limit check and the increment happen under the same lock.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]*Record
}

// NewMemoryStore returns an empty in-memory usage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]*Record)}
}

func (ms *MemoryStore) Get(ctx context.Context, subID uuid.UUID, key string) (*Record, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.records[recordKey{subID, key}]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (ms *MemoryStore) List(ctx context.Context, subID uuid.UUID) ([]Record, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []Record
	for k, rec := range ms.records {
		if k.subID == subID {
			out = append(out, *rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeatureKey < out[j].FeatureKey })
	return out, nil
}

func (ms *MemoryStore) Save(ctx context.Context, rec *Record) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	k := recordKey{rec.SubscriptionID, rec.FeatureKey}
	saved := rec.Clone()
	if existing, ok := ms.records[k]; ok {
		saved.CreatedAt = existing.CreatedAt
	}
	ms.records[k] = saved
	return nil
}

func (ms *MemoryStore) Consume(ctx context.Context, subID uuid.UUID, key string, amount int64, limit *int64, now time.Time, validUntil *time.Time) (*Record, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	k := recordKey{subID, key}
	rec, ok := ms.records[k]
	if !ok {
		rec = &Record{
			SubscriptionID: subID,
			FeatureKey:     key,
			ValidUntil:     validUntil,
			CreatedAt:      now,
		}
		ms.records[k] = rec
	}

	if limit != nil && rec.Used+amount > *limit {
		return nil, ErrUsageExceeded
	}

	rec.Used += amount
	stamp := now
	rec.LastUsedAt = &stamp
	rec.ValidUntil = validUntil
	rec.UpdatedAt = now
	return rec.Clone(), nil
}

func (ms *MemoryStore) FindResetCandidates(ctx context.Context, asOf time.Time, limit int) ([]Record, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []Record
	for _, rec := range ms.records {
		if rec.Used > 0 && rec.ValidUntil != nil && !rec.ValidUntil.After(asOf) {
			out = append(out, *rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ValidUntil.Equal(*out[j].ValidUntil) {
			return out[i].ValidUntil.Before(*out[j].ValidUntil)
		}
		if out[i].SubscriptionID != out[j].SubscriptionID {
			return out[i].SubscriptionID.String() < out[j].SubscriptionID.String()
		}
		return out[i].FeatureKey < out[j].FeatureKey
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (ms *MemoryStore) DeleteBySubscription(ctx context.Context, subID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for k := range ms.records {
		if k.subID == subID {
			delete(ms.records, k)
		}
	}
	return nil
}
