package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
// Transactions are modeled with copy-on-write under one coarse mutex: InTx
// clones the whole map, runs the unit of work against the clone, and swaps
// it in only on success. That gives the same all-or-nothing and serialized
// semantics the production store provides with row locks.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]*Subscription)}
}

func (ms *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	scratch := make(map[uuid.UUID]*Subscription, len(ms.subs))
	for id, s := range ms.subs {
		scratch[id] = s.Clone()
	}
	tx := &memTx{subs: scratch}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	ms.subs = scratch
	return nil
}

func (ms *MemoryStore) view() *memTx { return &memTx{subs: ms.subs} }

func (ms *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.view().Create(ctx, sub)
}

func (ms *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.view().Get(ctx, id)
}

func (ms *MemoryStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.view().Get(ctx, id)
}

func (ms *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.view().Update(ctx, sub)
}

func (ms *MemoryStore) FindBySubscriber(ctx context.Context, ref SubscriberRef) ([]Subscription, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.view().FindBySubscriber(ctx, ref)
}

func (ms *MemoryStore) FindActiveBySubscriber(ctx context.Context, ref SubscriberRef) (*Subscription, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.view().FindActiveBySubscriber(ctx, ref)
}

func (ms *MemoryStore) HasTrialed(ctx context.Context, ref SubscriberRef, planID string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.view().HasTrialed(ctx, ref, planID)
}

func (ms *MemoryStore) FindRenewalDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]Subscription, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.view().FindRenewalDue(ctx, now, lookahead, limit)
}

func (ms *MemoryStore) FindExpiryDue(ctx context.Context, now time.Time, limit int) ([]Subscription, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.view().FindExpiryDue(ctx, now, limit)
}

// memTx operates on a map the enclosing MemoryStore already guards.
type memTx struct {
	subs map[uuid.UUID]*Subscription
}

// InTx on an already-open transaction just joins it.
func (tx *memTx) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, tx)
}

func (tx *memTx) Create(ctx context.Context, sub *Subscription) error {
	if _, exists := tx.subs[sub.ID]; exists {
		return ErrSubscriptionExists
	}
	tx.subs[sub.ID] = sub.Clone()
	return nil
}

func (tx *memTx) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	s, ok := tx.subs[id]
	if !ok || s.DeletedAt != nil {
		return nil, ErrSubscriptionNotFound
	}
	return s.Clone(), nil
}

// GetForUpdate is identical to Get here: the store-wide mutex already
// serializes every transaction.
func (tx *memTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return tx.Get(ctx, id)
}

func (tx *memTx) Update(ctx context.Context, sub *Subscription) error {
	if _, exists := tx.subs[sub.ID]; !exists {
		return ErrSubscriptionNotFound
	}
	tx.subs[sub.ID] = sub.Clone()
	return nil
}

func (tx *memTx) FindBySubscriber(ctx context.Context, ref SubscriberRef) ([]Subscription, error) {
	var out []Subscription
	for _, s := range tx.subs {
		if s.DeletedAt == nil && s.Subscriber == ref {
			out = append(out, *s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (tx *memTx) FindActiveBySubscriber(ctx context.Context, ref SubscriberRef) (*Subscription, error) {
	for _, s := range tx.subs {
		if s.DeletedAt == nil && s.Subscriber == ref && s.IsActiveStatus() {
			return s.Clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

// HasTrialed scans history including soft-deleted rows: a deleted
// subscription must not grant a fresh trial.
func (tx *memTx) HasTrialed(ctx context.Context, ref SubscriberRef, planID string) (bool, error) {
	for _, s := range tx.subs {
		if s.Subscriber == ref && s.PlanID == planID && s.TrialEndsAt != nil {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) FindRenewalDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]Subscription, error) {
	horizon := now.Add(lookahead)
	var out []Subscription
	for _, s := range tx.subs {
		if s.DeletedAt != nil || !s.AutoRenew || s.Status != StatusActive || s.EndsAt == nil {
			continue
		}
		if s.EndsAt.After(now) && !s.EndsAt.After(horizon) {
			out = append(out, *s.Clone())
		}
	}
	sortByEndThenID(out)
	return capLen(out, limit), nil
}

func (tx *memTx) FindExpiryDue(ctx context.Context, now time.Time, limit int) ([]Subscription, error) {
	var out []Subscription
	for _, s := range tx.subs {
		if s.DeletedAt != nil || !s.Status.IsActive() {
			continue
		}
		switch {
		case s.GraceEndsAt != nil:
			if !s.GraceEndsAt.After(now) {
				out = append(out, *s.Clone())
			}
		case s.EndsAt != nil:
			if !s.EndsAt.After(now) {
				out = append(out, *s.Clone())
			}
		}
		// EndsAt nil without grace is a lifetime subscription: never due.
	}
	sortByEndThenID(out)
	return capLen(out, limit), nil
}

func sortByEndThenID(subs []Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		ei, ej := subs[i].EndsAt, subs[j].EndsAt
		switch {
		case ei != nil && ej != nil && !ei.Equal(*ej):
			return ei.Before(*ej)
		case (ei == nil) != (ej == nil):
			return ej == nil
		}
		return subs[i].ID.String() < subs[j].ID.String()
	})
}

func capLen(subs []Subscription, limit int) []Subscription {
	if limit > 0 && len(subs) > limit {
		return subs[:limit]
	}
	return subs
}
