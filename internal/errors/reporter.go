package errors

import (
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter forwards errors to an external tracker.
type Reporter interface {
	Report(err error)
	Flush(timeout time.Duration) bool
}

var (
	reporterMu sync.RWMutex
	reporter   Reporter
)

// SetReporter installs the package-level reporter. Passing nil disables reporting.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
}

// Report sends err to the installed reporter, if any.
func Report(err error) {
	if err == nil {
		return
	}
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r != nil {
		r.Report(err)
	}
}

// SentryReporter reports errors to Sentry, tagging them with component and category.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter initializes a dedicated Sentry client for dsn.
func NewSentryReporter(dsn, environment, release string) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, Newf("failed to initialize sentry client: %w", err).
			Component("errors").
			Category(CategoryConfiguration).
			Build()
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *SentryReporter) Report(err error) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		var ee *EnhancedError
		if As(err, &ee) {
			scope.SetTag("component", ee.component)
			scope.SetTag("category", string(ee.category))
			if len(ee.context) > 0 {
				scope.SetContext("error", sentry.Context(ee.GetContext()))
			}
		}
		s.hub.CaptureException(err)
	})
}

func (s *SentryReporter) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
