package sweep

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// Expirer moves a lapsed subscription to the expired status.
// *subscription.Engine satisfies it.
type Expirer interface {
	Expire(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
}

// ExpirySweeper expires subscriptions whose term and grace period have both
// run out. Lifetime subscriptions are never selected. The run is idempotent:
// an already-expired subscription is not a candidate.
type ExpirySweeper struct {
	base
	store   subscription.Store
	expirer Expirer
}

func NewExpirySweeper(store subscription.Store, expirer Expirer, opts ...SweeperOption) *ExpirySweeper {
	if store == nil {
		panic("sweep: subscription store is required")
	}
	if expirer == nil {
		panic("sweep: expirer is required")
	}
	return &ExpirySweeper{
		base:    newBase(opts),
		store:   store,
		expirer: expirer,
	}
}

func (s *ExpirySweeper) Run(ctx context.Context, opts ...Option) (Summary, error) {
	o := newOptions(opts)
	due, err := s.store.FindExpiryDue(ctx, s.now(), o.limit)
	if err != nil {
		return Summary{}, err
	}

	jobs := make([]job, len(due))
	for i, sub := range due {
		sub := sub
		jobs[i] = job{
			subID: sub.ID,
			run: func(ctx context.Context) error {
				_, err := s.expirer.Expire(ctx, sub.ID)
				return err
			},
		}
	}
	return s.run(ctx, o, jobs, 0), nil
}
