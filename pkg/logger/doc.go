// Package logger builds configured slog loggers: JSON or text output,
// service/environment presets, static attributes, and context-derived
// attributes injected per record via ContextHandler. The attr helpers keep
// key names for common domain fields consistent across packages.
//
//	log := logger.New(
//		logger.WithService("subkit", os.Getenv("APP_ENV")),
//		logger.WithContextValue("job_id", jobIDKey),
//	)
//	logger.SetAsDefault(log)
package logger
