// Package telemetry initializes Sentry error reporting. Enhanced errors
// from internal/errors reach Sentry through errors.SentryReporter once Init
// has run.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/logger"
)

// FlushTimeout bounds the wait for queued events on shutdown.
const FlushTimeout = 2 * time.Second

// Options configures Init.
type Options struct {
	Settings *conf.SentrySettings
	Release  string
	// Transport replaces the HTTP transport, for tests.
	Transport sentry.Transport
}

// Init configures the Sentry SDK and installs the error reporter. It returns
// a flush function to call before exit. With Sentry disabled it installs
// nothing and the flush function is a no-op.
func Init(opts Options) (flush func(), err error) {
	noop := func() {}
	if opts.Settings == nil || !opts.Settings.Enabled {
		return noop, nil
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              opts.Settings.DSN,
		Environment:      opts.Settings.Environment,
		Release:          opts.Release,
		SampleRate:       1.0,
		AttachStacktrace: false,
		ServerName:       "",
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return noop, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	return func() {
		sentry.Flush(FlushTimeout)
	}, nil
}

// applyPrivacyFilters drops host identity and scrubs credentials from the
// free text parts of an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = logger.RedactSensitiveData(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = logger.RedactSensitiveData(event.Exception[i].Value)
	}
	for k, v := range event.Extra {
		if s, ok := v.(string); ok {
			event.Extra[k] = logger.RedactSensitiveData(s)
		}
	}
	return event
}
