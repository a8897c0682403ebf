package subscription

import (
	"errors"
	"fmt"
)

var (
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrSubscriptionExists    = errors.New("subscription already exists")
	ErrSubscriptionNotActive = errors.New("subscription is not in an active status")

	ErrInvalidSubscriberRef = errors.New("subscriber reference requires a type and an id")
	ErrInvalidFeatureKey    = errors.New("feature key must match ^[A-Za-z0-9_-]+$")
	ErrNonPositiveAmount    = errors.New("consumption amount must be a positive integer")
	ErrInvalidTrialPeriod   = errors.New("trial period is outside the configured bounds")
	ErrInvalidDateOrder     = errors.New("subscription dates are out of order")

	ErrPlanNotAvailable    = errors.New("plan is inactive or deleted")
	ErrPricingNotAvailable = errors.New("pricing option is inactive")
)

// TransitionError reports an attempt to move a subscription between two
// statuses the transition graph does not connect.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition from %q to %q", e.From, e.To)
}

// AsTransitionError extracts a TransitionError from an error chain.
func AsTransitionError(err error) (*TransitionError, bool) {
	var te *TransitionError
	ok := errors.As(err, &te)
	return te, ok
}

// BusinessError is a validation failure carrying a stable machine-checkable
// reason code. Callers branch on the code (or compare against the exported
// singleton with errors.Is) instead of parsing the message.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	return e.Message
}

// AsBusinessError extracts a BusinessError from an error chain.
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	ok := errors.As(err, &be)
	return be, ok
}

// Business-rule errors. Each is a singleton so errors.Is works directly.
var (
	ErrAlreadySubscribed    = &BusinessError{Code: "already_subscribed", Message: "subscriber already holds an active subscription"}
	ErrTrialNotEligible     = &BusinessError{Code: "trial_not_eligible", Message: "subscriber already used a trial for this plan"}
	ErrNotRenewable         = &BusinessError{Code: "not_renewable", Message: "subscription status does not permit renewal"}
	ErrNotResumable         = &BusinessError{Code: "not_resumable", Message: "subscription status does not permit resumption"}
	ErrResumeWindowPassed   = &BusinessError{Code: "resume_window_passed", Message: "paid period has ended; duplicate the subscription instead"}
	ErrNotDuplicable        = &BusinessError{Code: "not_duplicable", Message: "only expired, canceled or inactive subscriptions can be duplicated"}
	ErrLifetimeNotRenewable = &BusinessError{Code: "lifetime_not_renewable", Message: "lifetime subscriptions have no term to extend"}
	ErrLifetimeNotExpirable = &BusinessError{Code: "lifetime_not_expirable", Message: "lifetime subscriptions never expire"}
	ErrRenewalUnavailable   = &BusinessError{Code: "renewal_unavailable", Message: "plan or pricing is no longer available for renewal"}
	ErrDowngradeNotAllowed  = &BusinessError{Code: "downgrade_not_allowed", Message: "downgrading to a smaller plan is disabled"}
	ErrDowngradeExcessUsage = &BusinessError{Code: "downgrade_excess_usage", Message: "current usage exceeds the target plan limits"}
	ErrNotPendingActivation = &BusinessError{Code: "not_pending", Message: "only pending subscriptions can be activated"}
)
