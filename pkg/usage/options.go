package usage

import (
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/subkit/pkg/catalog"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// Option configures a Service instance.
type Option func(*Service)

// WithSink sets the destination for usage events. Defaults to NopSink.
func WithSink(sink subscription.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source. Tests pin it to a fixed instant.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// isBusinessNo separates "the feature simply is not on the plan" from
// infrastructure failures when answering advisory queries.
func isBusinessNo(err error) bool {
	return errors.Is(err, catalog.ErrFeatureNotFound)
}
