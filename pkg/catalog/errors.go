package catalog

import "errors"

var (
	ErrPlanNotFound        = errors.New("catalog: plan not found")
	ErrPricingNotFound     = errors.New("catalog: pricing not found")
	ErrFeatureNotFound     = errors.New("catalog: feature not found")
	ErrPricingPlanMismatch = errors.New("catalog: pricing does not belong to plan")

	ErrInvalidResetPeriod  = errors.New("catalog: invalid reset period")
	ErrInvalidDuration     = errors.New("catalog: pricing duration must not be negative")
	ErrEmptyPlanID         = errors.New("catalog: plan ID must not be empty")
	ErrEmptyFeatureKey     = errors.New("catalog: feature key must not be empty")
	ErrFailedToLoadCatalog = errors.New("catalog: failed to load plan catalog")
)
