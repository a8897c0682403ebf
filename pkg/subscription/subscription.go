package subscription

import (
	"time"

	"github.com/google/uuid"
)

// SubscriberRef is an opaque polymorphic reference to whoever holds the
// subscription. The engine never inspects it beyond identity; concrete
// subscriber kinds live in the host application.
type SubscriberRef struct {
	Type string
	ID   string
}

// Validate checks that both parts of the reference are present.
func (r SubscriberRef) Validate() error {
	if r.Type == "" || r.ID == "" {
		return ErrInvalidSubscriberRef
	}
	return nil
}

func (r SubscriberRef) String() string {
	return r.Type + ":" + r.ID
}

// Subscription is one enrollment episode of a subscriber on a plan.
// Pricing is immutable per subscription; a plan change rewrites the plan and
// pricing references through ChangePlan, never by direct field edits.
type Subscription struct {
	ID         uuid.UUID
	Subscriber SubscriberRef
	PlanID     string
	PricingID  string
	Status     Status
	AutoRenew  bool

	StartsAt    *time.Time // nil until activation of a pending subscription
	EndsAt      *time.Time // nil for lifetime subscriptions
	GraceEndsAt *time.Time // nil when no grace applies; otherwise >= EndsAt
	TrialEndsAt *time.Time // nil when no trial preceded the paid term
	CanceledAt  *time.Time
	DeletedAt   *time.Time // soft-deletion marker; excluded from active queries

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActiveStatus reports whether the subscription counts toward the
// one-active-subscription invariant and may consume features.
func (s *Subscription) IsActiveStatus() bool {
	return s.Status.IsActive()
}

// IsLifetime reports whether the subscription has started and never ends.
func (s *Subscription) IsLifetime() bool {
	return s.StartsAt != nil && s.EndsAt == nil
}

// OnTrial reports whether now falls inside the trial window.
func (s *Subscription) OnTrial(now time.Time) bool {
	return s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt)
}

// OnGracePeriod reports whether the paid term has lapsed but the grace
// window is still open.
func (s *Subscription) OnGracePeriod(now time.Time) bool {
	if s.EndsAt == nil || s.GraceEndsAt == nil {
		return false
	}
	return !now.Before(*s.EndsAt) && now.Before(*s.GraceEndsAt)
}

// Ended reports whether both the paid term and any grace window have passed.
// Lifetime subscriptions never end.
func (s *Subscription) Ended(now time.Time) bool {
	if s.EndsAt == nil {
		return false
	}
	deadline := *s.EndsAt
	if s.GraceEndsAt != nil && s.GraceEndsAt.After(deadline) {
		deadline = *s.GraceEndsAt
	}
	return !now.Before(deadline)
}

// DaysUntilEnd returns whole days until the paid term ends, rounding partial
// days up. Returns 0 when already ended and -1 for lifetime subscriptions.
func (s *Subscription) DaysUntilEnd(now time.Time) int {
	if s.EndsAt == nil {
		return -1
	}
	remaining := s.EndsAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int((remaining.Hours() + 23) / 24)
}

// transitionTo moves the subscription to target after consulting the
// transition graph. Every status mutation in the package routes through it.
func (s *Subscription) transitionTo(target Status) error {
	if !s.Status.CanTransitionTo(target) {
		return &TransitionError{From: s.Status, To: target}
	}
	s.Status = target
	return nil
}

// applyWindow copies a computed time window onto the subscription.
func (s *Subscription) applyWindow(w Window) {
	start := w.StartsAt
	s.StartsAt = &start
	s.TrialEndsAt = cloneTime(w.TrialEndsAt)
	s.EndsAt = cloneTime(w.EndsAt)
	s.GraceEndsAt = cloneTime(w.GraceEndsAt)
}

// Clone returns a deep copy so stores can hand out values without sharing
// pointer fields with callers.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.StartsAt = cloneTime(s.StartsAt)
	c.EndsAt = cloneTime(s.EndsAt)
	c.GraceEndsAt = cloneTime(s.GraceEndsAt)
	c.TrialEndsAt = cloneTime(s.TrialEndsAt)
	c.CanceledAt = cloneTime(s.CanceledAt)
	c.DeletedAt = cloneTime(s.DeletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
