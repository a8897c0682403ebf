package sweep

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// Renewer extends a subscription's paid term. *subscription.Engine
// satisfies it.
type Renewer interface {
	Renew(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
}

// RenewalSweeper renews auto-renewing subscriptions whose term lapses
// within the configured lookahead. Run it ahead of the expiry sweeper so a
// healthy subscription never sits expired between the two.
type RenewalSweeper struct {
	base
	store   subscription.Store
	renewer Renewer
}

func NewRenewalSweeper(store subscription.Store, renewer Renewer, opts ...SweeperOption) *RenewalSweeper {
	if store == nil {
		panic("sweep: subscription store is required")
	}
	if renewer == nil {
		panic("sweep: renewer is required")
	}
	return &RenewalSweeper{
		base:    newBase(opts),
		store:   store,
		renewer: renewer,
	}
}

func (s *RenewalSweeper) Run(ctx context.Context, opts ...Option) (Summary, error) {
	o := newOptions(opts)
	due, err := s.store.FindRenewalDue(ctx, s.now(), o.lookahead, o.limit)
	if err != nil {
		return Summary{}, err
	}

	jobs := make([]job, len(due))
	for i, sub := range due {
		sub := sub
		jobs[i] = job{
			subID: sub.ID,
			run: func(ctx context.Context) error {
				_, err := s.renewer.Renew(ctx, sub.ID)
				return err
			},
		}
	}
	return s.run(ctx, o, jobs, 0), nil
}
