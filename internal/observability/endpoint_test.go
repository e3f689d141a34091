package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/logger"
	"github.com/openledger/imageledger/internal/observability/metrics"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelError, nil)
}

func TestEndpoint_ServesMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Recorder("ingest", "flickr").AddRecords(metrics.OpChunkCommit, metrics.StatusCommitted, 45)

	e, err := NewEndpoint(&conf.MetricsSettings{Enabled: true, Listen: "127.0.0.1:0", Path: "/metrics"}, m, testLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `imageledger_records_total{component="ingest",operation="chunk_commit",provider="flickr",status="committed"} 45`)
	assert.Contains(t, body, "go_goroutines")
}

func TestEndpoint_Disabled(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	_, err = NewEndpoint(&conf.MetricsSettings{}, m, testLogger())
	assert.Error(t, err)
}

func TestEndpoint_UnknownPath(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	e, err := NewEndpoint(&conf.MetricsSettings{Enabled: true, Path: "/prom"}, m, testLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_NilRecorder(t *testing.T) {
	var m *Metrics
	assert.Equal(t, metrics.NopRecorder{}, m.Recorder("sync", ""))
}
