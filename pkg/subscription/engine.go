package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/catalog"
)

// UsageManager is the narrow contract the engine needs from the usage
// ledger. It is optional; see WithUsageManager.
type UsageManager interface {
	// CopyForDuplicate recreates the source subscription's usage records
	// under the new subscription with counters zeroed and reset windows
	// computed from anchor.
	CopyForDuplicate(ctx context.Context, src, dst uuid.UUID, anchor time.Time) error

	// ResetAll zeroes every usage counter of the subscription.
	ResetAll(ctx context.Context, subID uuid.UUID) error

	// TotalsByFeature returns the current counter per feature key.
	TotalsByFeature(ctx context.Context, subID uuid.UUID) (map[string]int64, error)
}

// ProrationPolicy decides what happens financially when a subscription moves
// between pricings. The engine only invokes it; the math lives with the
// host application.
type ProrationPolicy interface {
	Prorate(ctx context.Context, sub *Subscription, from, to *catalog.Pricing, now time.Time) error
}

type nopProration struct{}

func (nopProration) Prorate(context.Context, *Subscription, *catalog.Pricing, *catalog.Pricing, time.Time) error {
	return nil
}

// Engine executes the subscription lifecycle: each action is one atomic
// validate-mutate-persist unit inside a store transaction, with domain
// events published after commit. Validation always runs inside the same
// transaction as the write so a check cannot go stale before the mutation.
type Engine struct {
	store     Store
	catalog   catalog.Provider
	cfg       Config
	sink      Sink
	log       *slog.Logger
	now       func() time.Time
	usage     UsageManager
	proration ProrationPolicy
}

// NewEngine constructs the lifecycle engine. Panics on nil store or catalog
// to fail fast on wiring mistakes.
func NewEngine(store Store, provider catalog.Provider, cfg Config, opts ...EngineOption) *Engine {
	if store == nil {
		panic("subscription: Store is required")
	}
	if provider == nil {
		panic("subscription: catalog.Provider is required")
	}

	e := &Engine{
		store:     store,
		catalog:   provider,
		cfg:       cfg,
		sink:      NopSink{},
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		proration: nopProration{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get returns a subscription by ID.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return e.store.Get(ctx, id)
}

// GetBySubscriber returns the subscriber's newest subscription.
func (e *Engine) GetBySubscriber(ctx context.Context, ref SubscriberRef) (*Subscription, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	subs, err := e.store.FindBySubscriber(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrSubscriptionNotFound
	}
	return &subs[0], nil
}

// Subscribe enrolls the subscriber on a plan. The subscription starts Active
// unless a trial is requested (Trial) or AsPending is set (Pending, awaiting
// Activate).
func (e *Engine) Subscribe(ctx context.Context, ref SubscriberRef, planID, pricingID string, opts ...CreateOption) (*Subscription, error) {
	p := newCreateParams(opts)

	sub, err := e.create(ctx, ref, planID, pricingID, p)
	if err != nil {
		return nil, err
	}

	now := e.now()
	events := []Event{SubscriptionCreated{
		EventBase: eventBase(sub, now),
		PlanID:    sub.PlanID,
		PricingID: sub.PricingID,
		Status:    sub.Status,
	}}
	if sub.Status != StatusPending {
		events = append(events, SubscriptionStarted{
			EventBase: eventBase(sub, now),
			PlanID:    sub.PlanID,
			StartsAt:  *sub.StartsAt,
			EndsAt:    sub.EndsAt,
		})
		if sub.TrialEndsAt != nil {
			events = append(events, TrialStarted{
				EventBase:   eventBase(sub, now),
				PlanID:      sub.PlanID,
				TrialEndsAt: *sub.TrialEndsAt,
			})
		}
	}
	e.publish(ctx, events...)
	return sub, nil
}

// StartTrial enrolls the subscriber on a plan in Trial status. Zero days
// selects the configured default trial length.
func (e *Engine) StartTrial(ctx context.Context, ref SubscriberRef, planID, pricingID string, opts ...CreateOption) (*Subscription, error) {
	p := newCreateParams(opts)
	p.trialRequested = true
	p.pending = false

	sub, err := e.create(ctx, ref, planID, pricingID, p)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, TrialStarted{
		EventBase:   eventBase(sub, e.now()),
		PlanID:      sub.PlanID,
		TrialEndsAt: *sub.TrialEndsAt,
	})
	return sub, nil
}

// create is the shared creation unit behind Subscribe, StartTrial and
// Duplicate. It re-checks the one-active-subscription invariant and trial
// eligibility inside the creating transaction.
func (e *Engine) create(ctx context.Context, ref SubscriberRef, planID, pricingID string, p createParams) (*Subscription, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	_, pricing, err := e.availablePricing(ctx, planID, pricingID)
	if err != nil {
		return nil, err
	}

	trialDays := 0
	if p.trialRequested {
		trialDays = p.trialDays
		if trialDays == 0 {
			trialDays = e.cfg.DefaultTrialDays
		}
		if err := validateTrialPeriod(trialDays, e.cfg); err != nil {
			return nil, err
		}
	}

	var sub *Subscription
	err = e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.FindActiveBySubscriber(ctx, ref); err == nil {
			return ErrAlreadySubscribed
		} else if !errors.Is(err, ErrSubscriptionNotFound) {
			return err
		}

		if trialDays > 0 && !e.cfg.AllowMultipleTrials {
			trialed, err := tx.HasTrialed(ctx, ref, planID)
			if err != nil {
				return err
			}
			if trialed {
				return ErrTrialNotEligible
			}
		}

		now := e.now()
		autoRenew := e.cfg.AutoRenewDefault
		if p.autoRenew != nil {
			autoRenew = *p.autoRenew
		}

		sub = &Subscription{
			ID:         uuid.New(),
			Subscriber: ref,
			PlanID:     planID,
			PricingID:  pricingID,
			Status:     StatusActive,
			AutoRenew:  autoRenew,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		if p.pending {
			sub.Status = StatusPending
		} else {
			start := now
			if p.startAt != nil {
				start = *p.startAt
			}
			sub.applyWindow(computeWindow(start, pricing.DurationDays, trialDays, e.cfg.GracePeriodDays))
			if trialDays > 0 {
				sub.Status = StatusTrial
			}
		}

		if err := validateDateOrder(sub); err != nil {
			return err
		}
		return tx.Create(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Activate starts a Pending subscription, computing its window from the
// activation instant.
func (e *Engine) Activate(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	var sub *Subscription
	err := e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		sub, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sub.Status != StatusPending {
			return ErrNotPendingActivation
		}

		_, pricing, err := e.availablePricing(ctx, sub.PlanID, sub.PricingID)
		if err != nil {
			return err
		}
		if err := sub.transitionTo(StatusActive); err != nil {
			return err
		}

		now := e.now()
		sub.applyWindow(computeWindow(now, pricing.DurationDays, 0, e.cfg.GracePeriodDays))
		sub.UpdatedAt = now
		if err := validateDateOrder(sub); err != nil {
			return err
		}
		return tx.Update(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, SubscriptionStarted{
		EventBase: eventBase(sub, e.now()),
		PlanID:    sub.PlanID,
		StartsAt:  *sub.StartsAt,
		EndsAt:    sub.EndsAt,
	})
	return sub, nil
}

// Renew extends the paid term by the pricing duration, anchored at the
// current end or at now when the term already lapsed, and converges the
// status on Active. When the plan or pricing is no longer available the
// subscription is left untouched, a renewal-failed event is emitted and
// ErrRenewalUnavailable is returned.
func (e *Engine) Renew(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	var (
		sub       *Subscription
		failedEvt Event
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		sub, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch sub.Status {
		case StatusActive, StatusInactive, StatusExpired:
		default:
			return ErrNotRenewable
		}
		if sub.IsLifetime() {
			return ErrLifetimeNotRenewable
		}

		_, pricing, err := e.availablePricing(ctx, sub.PlanID, sub.PricingID)
		if err != nil {
			failedEvt = SubscriptionRenewalFailed{
				EventBase: eventBase(sub, e.now()),
				PlanID:    sub.PlanID,
				Reason:    err.Error(),
			}
			return errors.Join(ErrRenewalUnavailable, err)
		}

		now := e.now()
		if sub.Status != StatusActive {
			if err := sub.transitionTo(StatusActive); err != nil {
				return err
			}
		}
		sub.EndsAt, sub.GraceEndsAt = renewalWindow(sub.EndsAt, now, pricing.DurationDays, e.cfg.GracePeriodDays)
		sub.UpdatedAt = now
		if err := validateDateOrder(sub); err != nil {
			return err
		}
		return tx.Update(ctx, sub)
	})
	if err != nil {
		if failedEvt != nil {
			e.publish(ctx, failedEvt)
		}
		return nil, err
	}

	e.publish(ctx, SubscriptionRenewed{
		EventBase: eventBase(sub, e.now()),
		PlanID:    sub.PlanID,
		EndsAt:    sub.EndsAt,
	})
	return sub, nil
}

// Cancel moves the subscription to Canceled. Dates stay untouched so access
// persists until the end of the paid (and grace) window, unless Immediately
// is passed.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, opts ...CancelOption) (*Subscription, error) {
	var p cancelParams
	for _, opt := range opts {
		opt(&p)
	}

	var sub *Subscription
	err := e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		sub, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := sub.transitionTo(StatusCanceled); err != nil {
			return err
		}

		now := e.now()
		sub.CanceledAt = &now
		if p.immediately {
			end := now
			if sub.StartsAt != nil && end.Before(*sub.StartsAt) {
				end = *sub.StartsAt
			}
			sub.EndsAt = &end
			sub.GraceEndsAt = nil
			if sub.TrialEndsAt != nil && sub.TrialEndsAt.After(end) {
				sub.TrialEndsAt = &end
			}
		}
		sub.UpdatedAt = now
		if err := validateDateOrder(sub); err != nil {
			return err
		}
		return tx.Update(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	accessUntil := sub.EndsAt
	if sub.GraceEndsAt != nil {
		accessUntil = sub.GraceEndsAt
	}
	e.publish(ctx, SubscriptionCanceled{
		EventBase:   eventBase(sub, e.now()),
		PlanID:      sub.PlanID,
		AccessUntil: accessUntil,
	})
	return sub, nil
}

// Resume reactivates a Canceled or Expired subscription whose paid window is
// still open. For a lapsed window use Duplicate instead.
func (e *Engine) Resume(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	var sub *Subscription
	err := e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		sub, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch sub.Status {
		case StatusCanceled, StatusExpired:
		default:
			return ErrNotResumable
		}
		now := e.now()
		if sub.EndsAt != nil && !now.Before(*sub.EndsAt) {
			return ErrResumeWindowPassed
		}
		if _, _, err := e.availablePricing(ctx, sub.PlanID, sub.PricingID); err != nil {
			return err
		}
		if err := sub.transitionTo(StatusActive); err != nil {
			return err
		}
		sub.CanceledAt = nil
		sub.UpdatedAt = now
		return tx.Update(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, SubscriptionResumed{
		EventBase: eventBase(sub, e.now()),
		PlanID:    sub.PlanID,
	})
	return sub, nil
}

// Expire moves an Active or Trial subscription to Expired. Lifetime
// subscriptions never expire.
func (e *Engine) Expire(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	var sub *Subscription
	err := e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		sub, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sub.IsLifetime() {
			return ErrLifetimeNotExpirable
		}
		if err := sub.transitionTo(StatusExpired); err != nil {
			return err
		}
		sub.UpdatedAt = e.now()
		return tx.Update(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, SubscriptionExpired{
		EventBase: eventBase(sub, e.now()),
		PlanID:    sub.PlanID,
	})
	return sub, nil
}

// Duplicate creates a fresh enrollment episode from a finished subscription:
// same plan and pricing, fresh dates, usage counters copied zeroed. The
// source must be Expired, Canceled or Inactive and the subscriber must not
// hold an active subscription.
func (e *Engine) Duplicate(ctx context.Context, id uuid.UUID, opts ...CreateOption) (*Subscription, error) {
	p := newCreateParams(opts)

	var src, dup *Subscription
	err := e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		src, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch src.Status {
		case StatusExpired, StatusCanceled, StatusInactive:
		default:
			return ErrNotDuplicable
		}

		_, pricing, err := e.availablePricing(ctx, src.PlanID, src.PricingID)
		if err != nil {
			return err
		}

		if _, err := tx.FindActiveBySubscriber(ctx, src.Subscriber); err == nil {
			return ErrAlreadySubscribed
		} else if !errors.Is(err, ErrSubscriptionNotFound) {
			return err
		}

		trialDays := 0
		if p.trialRequested {
			trialDays = p.trialDays
			if trialDays == 0 {
				trialDays = e.cfg.DefaultTrialDays
			}
			if err := validateTrialPeriod(trialDays, e.cfg); err != nil {
				return err
			}
			if !e.cfg.AllowMultipleTrials {
				trialed, err := tx.HasTrialed(ctx, src.Subscriber, src.PlanID)
				if err != nil {
					return err
				}
				if trialed {
					return ErrTrialNotEligible
				}
			}
		}

		now := e.now()
		start := now
		if p.startAt != nil {
			start = *p.startAt
		}
		autoRenew := src.AutoRenew
		if p.autoRenew != nil {
			autoRenew = *p.autoRenew
		}

		dup = &Subscription{
			ID:         uuid.New(),
			Subscriber: src.Subscriber,
			PlanID:     src.PlanID,
			PricingID:  src.PricingID,
			Status:     StatusActive,
			AutoRenew:  autoRenew,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		dup.applyWindow(computeWindow(start, pricing.DurationDays, trialDays, e.cfg.GracePeriodDays))
		if trialDays > 0 {
			dup.Status = StatusTrial
		}
		if err := validateDateOrder(dup); err != nil {
			return err
		}
		return tx.Create(ctx, dup)
	})
	if err != nil {
		return nil, err
	}

	if e.usage != nil {
		anchor := e.now()
		if dup.StartsAt != nil {
			anchor = *dup.StartsAt
		}
		// Usage rows are created lazily on first consumption, so a failed
		// copy only loses reset anchors, never grants extra quota.
		if err := e.usage.CopyForDuplicate(ctx, src.ID, dup.ID, anchor); err != nil {
			e.log.ErrorContext(ctx, "failed to copy usage records for duplicate",
				"source_id", src.ID, "subscription_id", dup.ID, "error", err)
		}
	}

	now := e.now()
	events := []Event{
		SubscriptionCreated{
			EventBase: eventBase(dup, now),
			PlanID:    dup.PlanID,
			PricingID: dup.PricingID,
			Status:    dup.Status,
		},
		SubscriptionStarted{
			EventBase: eventBase(dup, now),
			PlanID:    dup.PlanID,
			StartsAt:  *dup.StartsAt,
			EndsAt:    dup.EndsAt,
		},
	}
	if dup.TrialEndsAt != nil {
		events = append(events, TrialStarted{
			EventBase:   eventBase(dup, now),
			PlanID:      dup.PlanID,
			TrialEndsAt: *dup.TrialEndsAt,
		})
	}
	e.publish(ctx, events...)
	return dup, nil
}

// ChangePlan moves an active-status subscription onto another plan/pricing
// in place, recomputing the paid term from the change instant. Downgrade
// handling follows the configured policy; proration is delegated to the
// pluggable ProrationPolicy.
func (e *Engine) ChangePlan(ctx context.Context, id uuid.UUID, planID, pricingID string) (*Subscription, error) {
	var (
		sub    *Subscription
		oldRef SubscriptionChanged
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		sub, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !sub.IsActiveStatus() {
			return ErrSubscriptionNotActive
		}

		targetPlan, targetPricing, err := e.availablePricing(ctx, planID, pricingID)
		if err != nil {
			return err
		}

		currentPlan, _ := e.catalog.GetPlan(ctx, sub.PlanID)
		var currentPricing *catalog.Pricing
		if currentPlan != nil {
			if pr, ok := currentPlan.Pricing(sub.PricingID); ok {
				currentPricing = &pr
			}
		}

		if isDowngrade(currentPlan, currentPricing, targetPlan, targetPricing) {
			if !e.cfg.AllowDowngrade {
				return ErrDowngradeNotAllowed
			}
			if e.cfg.PreventDowngradeWithExcessUsage && e.usage != nil {
				totals, err := e.usage.TotalsByFeature(ctx, sub.ID)
				if err != nil {
					return err
				}
				for key, f := range targetPlan.Features {
					if f.Limit != nil && totals[key] > *f.Limit {
						return ErrDowngradeExcessUsage
					}
				}
			}
		}

		now := e.now()
		if err := e.proration.Prorate(ctx, sub, currentPricing, targetPricing, now); err != nil {
			return err
		}

		oldRef = SubscriptionChanged{
			EventBase:    eventBase(sub, now),
			OldPlanID:    sub.PlanID,
			OldPricingID: sub.PricingID,
			NewPlanID:    planID,
			NewPricingID: pricingID,
		}

		sub.PlanID = planID
		sub.PricingID = pricingID
		if targetPricing.IsLifetime() {
			sub.EndsAt = nil
			sub.GraceEndsAt = nil
		} else {
			sub.EndsAt, sub.GraceEndsAt = renewalWindow(nil, now, targetPricing.DurationDays, e.cfg.GracePeriodDays)
		}
		sub.UpdatedAt = now
		if err := validateDateOrder(sub); err != nil {
			return err
		}
		return tx.Update(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	// The ledger reads the subscription store, so resetting inside the
	// transaction would re-enter the lock it holds. Running after commit
	// also keeps the write atomic: a failed reset leaves stale counters to
	// retry, never a changed plan rolled back under zeroed usage.
	if e.cfg.ResetUsageOnPlanChange && e.usage != nil {
		if err := e.usage.ResetAll(ctx, sub.ID); err != nil {
			e.log.ErrorContext(ctx, "failed to reset usage after plan change",
				"subscription_id", sub.ID, "error", err)
		}
	}

	e.publish(ctx, oldRef)
	return sub, nil
}

// availablePricing resolves and validates a plan/pricing pair.
func (e *Engine) availablePricing(ctx context.Context, planID, pricingID string) (*catalog.Plan, *catalog.Pricing, error) {
	plan, err := e.catalog.GetPlan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	if err := validatePlan(plan); err != nil {
		return nil, nil, err
	}
	pricing, err := e.catalog.GetPricing(ctx, planID, pricingID)
	if err != nil {
		return nil, nil, err
	}
	if err := validatePricing(plan, pricing); err != nil {
		return nil, nil, err
	}
	return plan, pricing, nil
}

// isDowngrade reports whether the move shrinks the subscription: a shorter
// paid term, a tighter feature limit, or a feature disappearing entirely.
func isDowngrade(fromPlan *catalog.Plan, fromPricing *catalog.Pricing, toPlan *catalog.Plan, toPricing *catalog.Pricing) bool {
	if fromPricing != nil && toPricing != nil &&
		!fromPricing.IsLifetime() && !toPricing.IsLifetime() &&
		toPricing.DurationDays < fromPricing.DurationDays {
		return true
	}
	if fromPricing != nil && fromPricing.IsLifetime() && toPricing != nil && !toPricing.IsLifetime() {
		return true
	}
	if fromPlan == nil || toPlan == nil {
		return false
	}
	for key, from := range fromPlan.Features {
		to, ok := toPlan.Features[key]
		if !ok {
			return true
		}
		if to.Limit != nil && (from.Limit == nil || *to.Limit < *from.Limit) {
			return true
		}
	}
	return false
}

func (e *Engine) publish(ctx context.Context, events ...Event) {
	if len(events) == 0 {
		return
	}
	if err := e.sink.Publish(ctx, events...); err != nil {
		e.log.ErrorContext(ctx, "failed to publish domain events",
			"count", len(events), "error", err)
	}
}
