package subscription

import (
	"log/slog"
	"time"
)

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// WithSink sets the destination for domain events. Defaults to NopSink.
func WithSink(sink Sink) EngineOption {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock overrides the time source. Tests pin it to a fixed instant.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithUsageManager attaches the usage ledger collaborator. Without it,
// Duplicate skips usage copying and plan-change policies that inspect usage
// are not enforced.
func WithUsageManager(um UsageManager) EngineOption {
	return func(e *Engine) {
		if um != nil {
			e.usage = um
		}
	}
}

// WithProrationPolicy plugs in plan-change proration. The default policy
// does nothing; the financial math is deliberately external.
func WithProrationPolicy(p ProrationPolicy) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.proration = p
		}
	}
}

// CreateOption tunes subscription-creating actions (Subscribe, StartTrial,
// Duplicate).
type CreateOption func(*createParams)

type createParams struct {
	trialRequested bool
	trialDays      int // 0 with trialRequested means "use the config default"
	startAt        *time.Time
	pending        bool
	autoRenew      *bool
}

func newCreateParams(opts []CreateOption) createParams {
	var p createParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithTrial requests a trial preceding the paid term. Zero days selects the
// configured default trial length.
func WithTrial(days int) CreateOption {
	return func(p *createParams) {
		p.trialRequested = true
		p.trialDays = days
	}
}

// StartingAt anchors the subscription window at t instead of now.
func StartingAt(t time.Time) CreateOption {
	return func(p *createParams) {
		utc := t.UTC()
		p.startAt = &utc
	}
}

// AsPending creates the subscription without activating it: status Pending,
// no dates until Activate runs.
func AsPending() CreateOption {
	return func(p *createParams) {
		p.pending = true
	}
}

// WithAutoRenew overrides the configured auto-renewal default for this
// subscription.
func WithAutoRenew(enabled bool) CreateOption {
	return func(p *createParams) {
		p.autoRenew = &enabled
	}
}

// CancelOption tunes the Cancel action.
type CancelOption func(*cancelParams)

type cancelParams struct {
	immediately bool
}

// Immediately revokes access at the cancellation instant instead of letting
// it run until the end of the paid (and grace) window.
func Immediately() CancelOption {
	return func(p *cancelParams) {
		p.immediately = true
	}
}
