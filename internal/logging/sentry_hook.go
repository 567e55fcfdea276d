package logging

import (
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// SentryHook is a zerolog hook that forwards error-and-above records as
// Sentry events. Transient and validation failures stay in structured logs;
// only fatal- and resource-class errors are worth paging on.
type SentryHook struct{}

// Run implements zerolog.Hook interface
func (h SentryHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level < zerolog.ErrorLevel {
		return
	}

	var sentryLevel sentry.Level
	switch level {
	case zerolog.ErrorLevel:
		sentryLevel = sentry.LevelError
	case zerolog.FatalLevel, zerolog.PanicLevel:
		sentryLevel = sentry.LevelFatal
	default:
		sentryLevel = sentry.LevelError
	}

	// Capture the message in Sentry
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel)
		
		// Add context tags
		scope.SetTag("log_level", level.String())
		
		sentry.CaptureMessage(msg)
	})
}
