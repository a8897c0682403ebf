package subscription

import "slices"

// Status represents the lifecycle state of a subscription.
type Status string

const (
	StatusPending  Status = "pending"
	StatusTrial    Status = "trialing"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// statusTransitions is the single source of truth for legal status changes.
// Every mutating action validates against it before writing; no action may
// bypass it. Canceled and Expired deliberately lead back to Active so that
// resumption and renewal reuse the existing row instead of manufacturing a
// new one; Duplicate exists for the case where a fresh episode is wanted.
var statusTransitions = map[Status][]Status{
	StatusPending:  {StatusTrial, StatusActive, StatusCanceled},
	StatusTrial:    {StatusActive, StatusCanceled, StatusExpired},
	StatusActive:   {StatusInactive, StatusCanceled, StatusExpired},
	StatusInactive: {StatusActive, StatusCanceled, StatusExpired},
	StatusCanceled: {StatusActive},
	StatusExpired:  {StatusActive},
}

// AllStatuses returns every defined subscription status.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusTrial, StatusActive, StatusInactive, StatusCanceled, StatusExpired}
}

// ActiveStatuses returns the statuses eligible for feature consumption and
// counted toward the one-active-subscription-per-subscriber invariant.
func ActiveStatuses() []Status {
	return []Status{StatusTrial, StatusActive}
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// IsActive reports whether the status permits feature consumption.
// Only Trial and Active qualify; all other statuses are inactive.
func (s Status) IsActive() bool {
	return s == StatusTrial || s == StatusActive
}

// CanTransitionTo reports whether a direct transition from s to target is
// legal. It is a pure membership check against the transition graph.
func (s Status) CanTransitionTo(target Status) bool {
	return slices.Contains(statusTransitions[s], target)
}

// Transitions returns the statuses reachable from s in a single step.
func (s Status) Transitions() []Status {
	return slices.Clone(statusTransitions[s])
}

func (s Status) String() string {
	return string(s)
}
