package telemetry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/errors"
)

func resetSentry(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		errors.SetTelemetryReporter(nil)
		_ = sentry.Init(sentry.ClientOptions{})
	})
}

func TestInit_Disabled(t *testing.T) {
	resetSentry(t)

	flush, err := Init(Options{Settings: &conf.SentrySettings{Enabled: false}})
	require.NoError(t, err)
	flush()
	assert.Nil(t, errors.GetTelemetryReporter())
}

func TestInit_ReportsScrubbedErrors(t *testing.T) {
	resetSentry(t)
	transport := NewMockTransport()

	flush, err := Init(Options{
		Settings:  &conf.SentrySettings{Enabled: true, Environment: "test"},
		Release:   "imageledger@test",
		Transport: transport,
	})
	require.NoError(t, err)

	_ = errors.Newf("fetch failed: GET https://api.example.org/rest?api_key=0123456789abcdef").
		Component("provider").
		Category(errors.CategoryNetwork).
		Build()
	flush()

	events := transport.GetEvents()
	require.Len(t, events, 1)
	event := events[0]
	assert.NotContains(t, event.Message, "0123456789abcdef")
	assert.Empty(t, event.ServerName)
	assert.Equal(t, "imageledger@test", event.Release)
	assert.Equal(t, "test", event.Environment)
}

func TestInit_SkipsCancellation(t *testing.T) {
	resetSentry(t)
	transport := NewMockTransport()

	flush, err := Init(Options{Settings: &conf.SentrySettings{Enabled: true}, Transport: transport})
	require.NoError(t, err)

	_ = errors.Newf("interrupted").
		Component("ingest").
		Category(errors.CategoryCancellation).
		Build()
	flush()

	assert.Empty(t, transport.GetEvents())
}

func TestApplyPrivacyFilters(t *testing.T) {
	event := &sentry.Event{
		Message:    "token=abc",
		ServerName: "worker-7",
		User:       sentry.User{ID: "42"},
		Tags:       map[string]string{"hostname": "worker-7", "component": "sync"},
		Contexts:   map[string]sentry.Context{"os": {"name": "linux"}},
		Extra:      map[string]any{"url": "https://x.org/?key=secretvalue", "n": 3},
		Exception:  []sentry.Exception{{Value: "password=hunter2"}},
	}

	out := applyPrivacyFilters(event)

	assert.Equal(t, "token=[REDACTED]", out.Message)
	assert.Empty(t, out.ServerName)
	assert.Empty(t, out.User.ID)
	assert.Equal(t, map[string]string{"component": "sync"}, out.Tags)
	assert.NotContains(t, out.Contexts, "os")
	assert.Equal(t, "https://x.org/?key=[REDACTED]", out.Extra["url"])
	assert.Equal(t, 3, out.Extra["n"])
	assert.Equal(t, "password=[REDACTED]", out.Exception[0].Value)
}
