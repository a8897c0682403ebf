package catalog

import (
	"context"
	"sync"
)

// Provider is the read-only catalog lookup contract consumed by the engine
// and the usage ledger. Implementations must be safe for concurrent use.
type Provider interface {
	// GetPlan returns the plan by ID, or ErrPlanNotFound.
	GetPlan(ctx context.Context, planID string) (*Plan, error)

	// GetPricing returns a pricing option of the given plan, or
	// ErrPlanNotFound / ErrPricingNotFound.
	GetPricing(ctx context.Context, planID, pricingID string) (*Pricing, error)

	// GetFeature returns a feature of the given plan, or
	// ErrPlanNotFound / ErrFeatureNotFound.
	GetFeature(ctx context.Context, planID, key string) (*Feature, error)
}

type inMemProvider struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemProvider returns a Provider serving deep copies of the given
// plans. Panics when no plans are supplied or a plan fails validation,
// following the fail-fast construction convention: a service booted against
// an empty or broken catalog cannot do anything useful.
func NewInMemProvider(plans ...Plan) Provider {
	if len(plans) == 0 {
		panic("catalog: at least one plan is required")
	}
	byID := make(map[string]Plan, len(plans))
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			panic("catalog: invalid plan " + p.ID + ": " + err.Error())
		}
		byID[p.ID] = p.clone()
	}
	return &inMemProvider{plans: byID}
}

func (s *inMemProvider) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[planID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	c := p.clone()
	return &c, nil
}

func (s *inMemProvider) GetPricing(ctx context.Context, planID, pricingID string) (*Pricing, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	pr, ok := plan.Pricing(pricingID)
	if !ok {
		return nil, ErrPricingNotFound
	}
	return &pr, nil
}

func (s *inMemProvider) GetFeature(ctx context.Context, planID, key string) (*Feature, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	f, ok := plan.Feature(key)
	if !ok {
		return nil, ErrFeatureNotFound
	}
	return &f, nil
}
