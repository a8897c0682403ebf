package catalog

import (
	"maps"
	"time"
)

// Plan describes a subscribable service plan and its pricing/feature
// constraints. Plans are read-only to the engine; administration happens in
// whatever system feeds the Provider.
type Plan struct {
	ID          string
	Name        string
	Description string
	Active      bool
	DeletedAt   *time.Time // soft-deletion marker from the administering system
	Pricings    map[string]Pricing
	Features    map[string]Feature
}

// IsAvailable reports whether the plan can back new subscription activity:
// it must be active and not soft-deleted.
func (p Plan) IsAvailable() bool {
	return p.Active && p.DeletedAt == nil
}

// Pricing looks up a pricing option by ID.
func (p Plan) Pricing(id string) (Pricing, bool) {
	pr, ok := p.Pricings[id]
	return pr, ok
}

// Feature looks up a feature by key.
func (p Plan) Feature(key string) (Feature, bool) {
	f, ok := p.Features[key]
	return f, ok
}

// clone deep-copies the plan so providers never hand out shared maps.
func (p Plan) clone() Plan {
	c := p
	c.Pricings = maps.Clone(p.Pricings)
	c.Features = maps.Clone(p.Features)
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		c.DeletedAt = &t
	}
	return c
}

// Pricing is one billing term of a plan. DurationDays of zero means a
// lifetime term: the subscription never ends and is exempt from grace and
// expiry handling.
type Pricing struct {
	ID           string
	PlanID       string
	DurationDays int
	Active       bool
}

// IsLifetime reports whether the term never ends.
func (pr Pricing) IsLifetime() bool {
	return pr.DurationDays == 0
}

// Feature is a metered capability granted by a plan. A nil Limit means
// unlimited consumption; Reset controls when counters return to zero.
type Feature struct {
	Key   string
	Limit *int64
	Reset ResetPeriod
}

// IsUnlimited reports whether consumption of the feature is uncapped.
func (f Feature) IsUnlimited() bool {
	return f.Limit == nil
}

// Limit is a convenience for building feature definitions with a bounded
// limit value.
func Limit(v int64) *int64 {
	return &v
}

// Validate checks a plan definition for internal consistency. Providers run
// it at load time so misconfiguration fails startup instead of surfacing as
// runtime validation noise.
func (p Plan) Validate() error {
	if p.ID == "" {
		return ErrEmptyPlanID
	}
	for id, pr := range p.Pricings {
		if pr.DurationDays < 0 {
			return ErrInvalidDuration
		}
		if pr.PlanID != "" && pr.PlanID != p.ID {
			return ErrPricingPlanMismatch
		}
		if pr.ID == "" || pr.ID != id {
			return ErrPricingNotFound
		}
	}
	for key, f := range p.Features {
		if key == "" || f.Key == "" || f.Key != key {
			return ErrEmptyFeatureKey
		}
		if !f.Reset.Valid() {
			return ErrInvalidResetPeriod
		}
	}
	return nil
}
