package logger_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/logger"
)

type ctxKey struct{}

func TestNewWithContextValue(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithFormat(logger.FormatText),
		logger.WithContextValue("job_id", ctxKey{}),
	)

	ctx := context.WithValue(context.Background(), ctxKey{}, "job-42")
	log.InfoContext(ctx, "sweep started")

	out := buf.String()
	assert.Contains(t, out, "sweep started")
	assert.Contains(t, out, "job_id=job-42")

	// Without the value in context the attribute stays out.
	buf.Reset()
	log.InfoContext(context.Background(), "sweep started")
	assert.NotContains(t, buf.String(), "job_id")
}

func TestWithServicePresets(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithService("subkit", "production"),
	)

	log.Debug("hidden in production")
	assert.Empty(t, buf.String())

	log.Info("visible")
	out := buf.String()
	assert.Contains(t, out, `"service":"subkit"`)
	assert.Contains(t, out, `"env":"production"`)
}

func TestWithFormatPanicsOnGarbage(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		logger.New(logger.WithFormat("yaml"))
	})
}

func TestAttrHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.Error(nil))
	assert.Equal(t, slog.Attr{}, logger.Errors(nil, nil))

	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)

	assert.Equal(t, "plan_id", logger.Plan("pro").Key)
	assert.Equal(t, "feature", logger.Feature("api").Key)
}
