package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract for subscriptions. Implementations must
// support transactional read-modify-write with record-level locking: every
// lifecycle action runs its validate-mutate-persist sequence inside InTx and
// loads the row through GetForUpdate before touching it.
//
// All read methods exclude soft-deleted rows except HasTrialed, which scans
// history: deleting a subscription must not grant a fresh trial.
type Store interface {
	// InTx runs fn within one transaction, passing a Store bound to it. Any
	// error from fn rolls the transaction back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// GetForUpdate loads a row holding its record lock until the enclosing
	// transaction ends. Only valid inside InTx.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Subscription, error)

	Update(ctx context.Context, sub *Subscription) error

	FindBySubscriber(ctx context.Context, ref SubscriberRef) ([]Subscription, error)

	// FindActiveBySubscriber returns the subscriber's Trial or Active
	// subscription, or ErrSubscriptionNotFound. Creation paths call it
	// inside the creating transaction to enforce the one-active invariant.
	FindActiveBySubscriber(ctx context.Context, ref SubscriberRef) (*Subscription, error)

	HasTrialed(ctx context.Context, ref SubscriberRef, planID string) (bool, error)

	// FindRenewalDue selects Active auto-renewing subscriptions whose EndsAt
	// falls within (now, now+lookahead].
	FindRenewalDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]Subscription, error)

	// FindExpiryDue selects Trial/Active subscriptions whose grace window
	// (or paid term, when no grace is set) has passed. Lifetime
	// subscriptions are never selected.
	FindExpiryDue(ctx context.Context, now time.Time, limit int) ([]Subscription, error)
}
