package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// SlogSink writes every event to a structured logger. Useful as a default
// sink in tooling and as an audit trail in small deployments.
type SlogSink struct {
	log   *slog.Logger
	level slog.Level
}

// NewSlogSink creates a sink logging at Info level. A nil logger falls back
// to slog.Default().
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log, level: slog.LevelInfo}
}

func (s *SlogSink) Publish(ctx context.Context, events ...subscription.Event) error {
	for _, evt := range events {
		s.log.Log(ctx, s.level, "subscription event",
			"event", evt.EventName(),
			"subscription_id", evt.SubscriptionID(),
			"occurred_at", evt.OccurredAt(),
		)
	}
	return nil
}

type multiSink []subscription.Sink

// Multi fans events out to several sinks. Every sink sees every event; the
// errors are joined.
func Multi(sinks ...subscription.Sink) subscription.Sink {
	active := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	if len(active) == 1 {
		return active[0]
	}
	return active
}

func (m multiSink) Publish(ctx context.Context, events ...subscription.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
