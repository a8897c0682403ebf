package subscription

import (
	"regexp"

	"github.com/dmitrymomot/subkit/pkg/catalog"
)

var featureKeyRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateFeatureKey checks that key is non-empty and matches the allowed
// alphabet. Exported because the usage ledger applies the same rule before
// touching its store.
func ValidateFeatureKey(key string) error {
	if !featureKeyRE.MatchString(key) {
		return ErrInvalidFeatureKey
	}
	return nil
}

// ValidateAmount checks that a consumption amount is strictly positive.
func ValidateAmount(n int64) error {
	if n <= 0 {
		return ErrNonPositiveAmount
	}
	return nil
}

// validateTrialPeriod checks the requested trial length against the
// configured bounds.
func validateTrialPeriod(days int, cfg Config) error {
	if days < cfg.TrialMinDays || days > cfg.TrialMaxDays {
		return ErrInvalidTrialPeriod
	}
	return nil
}

// validatePlan checks that the plan can back new subscription activity.
func validatePlan(plan *catalog.Plan) error {
	if plan == nil || !plan.IsAvailable() {
		return ErrPlanNotAvailable
	}
	return nil
}

// validatePricing checks that the pricing option belongs to the plan, is
// active and carries a non-negative duration. Negative durations are caught
// here so the window calculator never sees them.
func validatePricing(plan *catalog.Plan, pricing *catalog.Pricing) error {
	if pricing == nil || !pricing.Active {
		return ErrPricingNotAvailable
	}
	if pricing.PlanID != "" && plan != nil && pricing.PlanID != plan.ID {
		return catalog.ErrPricingPlanMismatch
	}
	if pricing.DurationDays < 0 {
		return catalog.ErrInvalidDuration
	}
	return nil
}

// validateTransition checks transition legality via the status graph.
func validateTransition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// validateDateOrder checks the ordering invariants between the temporal
// fields: start <= end, trial end >= start, grace end >= end.
func validateDateOrder(s *Subscription) error {
	if s.StartsAt != nil && s.EndsAt != nil && s.EndsAt.Before(*s.StartsAt) {
		return ErrInvalidDateOrder
	}
	if s.StartsAt != nil && s.TrialEndsAt != nil && s.TrialEndsAt.Before(*s.StartsAt) {
		return ErrInvalidDateOrder
	}
	if s.EndsAt != nil && s.GraceEndsAt != nil && s.GraceEndsAt.Before(*s.EndsAt) {
		return ErrInvalidDateOrder
	}
	return nil
}
