package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event emitted by a lifecycle action or by the usage
// ledger. Events are assembled during the mutating transaction and published
// after it commits; the core never reads them back.
type Event interface {
	EventName() string
	SubscriptionID() uuid.UUID
	OccurredAt() time.Time
}

// Sink receives domain events. Publication is fire-and-forget: the engine
// logs a failed publish and moves on, it never fails the action.
type Sink interface {
	Publish(ctx context.Context, events ...Event) error
}

// NopSink discards every event. It is the default sink.
type NopSink struct{}

func (NopSink) Publish(context.Context, ...Event) error { return nil }

// EventBase carries the identity shared by every domain event.
type EventBase struct {
	SubID      uuid.UUID     `json:"subscription_id"`
	Subscriber SubscriberRef `json:"subscriber"`
	At         time.Time     `json:"occurred_at"`
}

func (e EventBase) SubscriptionID() uuid.UUID { return e.SubID }
func (e EventBase) OccurredAt() time.Time     { return e.At }

func eventBase(s *Subscription, at time.Time) EventBase {
	return EventBase{SubID: s.ID, Subscriber: s.Subscriber, At: at}
}

type SubscriptionCreated struct {
	EventBase
	PlanID    string `json:"plan_id"`
	PricingID string `json:"pricing_id"`
	Status    Status `json:"status"`
}

func (SubscriptionCreated) EventName() string { return "subscription.created" }

type SubscriptionStarted struct {
	EventBase
	PlanID   string     `json:"plan_id"`
	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

func (SubscriptionStarted) EventName() string { return "subscription.started" }

type TrialStarted struct {
	EventBase
	PlanID      string    `json:"plan_id"`
	TrialEndsAt time.Time `json:"trial_ends_at"`
}

func (TrialStarted) EventName() string { return "subscription.trial_started" }

type SubscriptionRenewed struct {
	EventBase
	PlanID string     `json:"plan_id"`
	EndsAt *time.Time `json:"ends_at,omitempty"`
}

func (SubscriptionRenewed) EventName() string { return "subscription.renewed" }

type SubscriptionRenewalFailed struct {
	EventBase
	PlanID string `json:"plan_id"`
	Reason string `json:"reason"`
}

func (SubscriptionRenewalFailed) EventName() string { return "subscription.renewal_failed" }

type SubscriptionCanceled struct {
	EventBase
	PlanID      string     `json:"plan_id"`
	AccessUntil *time.Time `json:"access_until,omitempty"`
}

func (SubscriptionCanceled) EventName() string { return "subscription.canceled" }

type SubscriptionResumed struct {
	EventBase
	PlanID string `json:"plan_id"`
}

func (SubscriptionResumed) EventName() string { return "subscription.resumed" }

type SubscriptionExpired struct {
	EventBase
	PlanID string `json:"plan_id"`
}

func (SubscriptionExpired) EventName() string { return "subscription.expired" }

type SubscriptionChanged struct {
	EventBase
	OldPlanID    string `json:"old_plan_id"`
	OldPricingID string `json:"old_pricing_id"`
	NewPlanID    string `json:"new_plan_id"`
	NewPricingID string `json:"new_pricing_id"`
}

func (SubscriptionChanged) EventName() string { return "subscription.changed" }

type FeatureUsed struct {
	EventBase
	FeatureKey string `json:"feature_key"`
	Amount     int64  `json:"amount"`
	Used       int64  `json:"used"`
}

func (FeatureUsed) EventName() string { return "subscription.feature_used" }

// FeatureUsageReset carries the counter values around a reset for audit.
type FeatureUsageReset struct {
	EventBase
	FeatureKey string `json:"feature_key"`
	OldUsed    int64  `json:"old_used"`
	NewUsed    int64  `json:"new_used"`
}

func (FeatureUsageReset) EventName() string { return "subscription.usage_reset" }
