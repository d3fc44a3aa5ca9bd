package errors

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives every built EnhancedError
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

type reporterHolder struct{ reporter TelemetryReporter }

var activeReporter atomic.Pointer[reporterHolder]

// SetTelemetryReporter installs reporter. Pass nil to disable reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	if reporter == nil {
		activeReporter.Store(nil)
		return
	}
	activeReporter.Store(&reporterHolder{reporter: reporter})
}

func reportToTelemetry(ee *EnhancedError) {
	holder := activeReporter.Load()
	if holder == nil || !holder.reporter.IsEnabled() {
		return
	}
	holder.reporter.ReportError(ee)
}

// SentryReporter forwards errors to Sentry. Validation failures are operator
// mistakes and are never sent.
type SentryReporter struct {
	enabled bool
}

// InitSentry initialises the Sentry SDK and returns a reporter bound to it.
// An empty dsn returns a disabled reporter.
func InitSentry(dsn, release string) (*SentryReporter, error) {
	if dsn == "" {
		return &SentryReporter{}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		AttachStacktrace: false,
		SendDefaultPII:   false,
	}); err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return &SentryReporter{enabled: true}, nil
}

// FlushSentry waits up to timeout for queued events to be delivered.
func FlushSentry(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

func (sr *SentryReporter) IsEnabled() bool {
	return sr != nil && sr.enabled
}

func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.IsEnabled() || ee.Category == CategoryValidation || ee.IsReported() {
		return
	}

	message := scrubURLs(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubURLs(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		level := sentryLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{ee.Component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{
			Type:  fmt.Sprintf("%s %s", ee.Component, ee.Category),
			Value: message,
		}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

func sentryLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryTimeout, CategoryHTTP:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var urlQueryPattern = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)

// scrubURLs drops query strings, which may carry credentials.
func scrubURLs(message string) string {
	return urlQueryPattern.ReplaceAllString(message, "$1?[REDACTED]")
}
