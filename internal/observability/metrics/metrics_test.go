package metrics

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics_Scope(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(registry)
	require.NoError(t, err)

	flickr := m.Scope("ingest", "flickr")
	flickr.RecordOperation(OpChunkCommit, StatusSuccess)
	flickr.RecordOperation(OpChunkCommit, StatusSuccess)
	flickr.AddRecords(OpNormalize, StatusSkipped, 3)
	flickr.AddRecords(OpNormalize, StatusSkipped, 0)
	flickr.RecordDuration(OpChunkCommit, 0.25)
	flickr.RecordError(OpFetchPage, "network")

	m.Scope("sync", "").RecordOperation(OpProbe, StatusRemoved)

	assert.InDelta(t, 2, testutil.ToFloat64(m.operationsTotal.WithLabelValues("ingest", "flickr", OpChunkCommit, StatusSuccess)), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.recordsTotal.WithLabelValues("ingest", "flickr", OpNormalize, StatusSkipped)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.errorsTotal.WithLabelValues("ingest", "flickr", OpFetchPage, "network")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.operationsTotal.WithLabelValues("sync", "", OpProbe, StatusRemoved)), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.operationDuration))
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestPipelineMetrics_DurationBuckets(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(registry)
	require.NoError(t, err)

	rec := m.Scope("reindex", "")
	rec.RecordDuration(OpRange, 0.005)
	rec.RecordDuration(OpRange, 3)

	families, err := registry.Gather()
	require.NoError(t, err)
	family := findFamily(families, "imageledger_operation_duration_seconds")
	require.NotNil(t, family)
	assert.Equal(t, dto.MetricType_HISTOGRAM, family.GetType())

	require.Len(t, family.GetMetric(), 1)
	hist := family.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 3.005, hist.GetSampleSum(), 1e-9)
	assert.Len(t, hist.GetBucket(), BucketCount12)
	// 10ms is the first bucket, so only the fast sample falls in it.
	assert.Equal(t, uint64(1), hist.GetBucket()[0].GetCumulativeCount())
}

func TestPipelineMetrics_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPipelineMetrics(registry)
	require.NoError(t, err)

	_, err = NewPipelineMetrics(registry)
	assert.Error(t, err)
}

func TestHTTPClientMetrics_ObserveResponse(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewHTTPClientMetrics(registry)
	require.NoError(t, err)

	req := &http.Request{Method: http.MethodHead, URL: &url.URL{Scheme: "https", Host: "api.flickr.com"}}
	m.ObserveResponse(req, &http.Response{StatusCode: http.StatusNotFound}, nil)
	m.ObserveResponse(req, nil, assert.AnError)
	m.ObserveResponse(req, &http.Response{StatusCode: http.StatusNotFound}, nil)

	assert.InDelta(t, 2, testutil.ToFloat64(m.requestsTotal.WithLabelValues("api.flickr.com", "HEAD", "404")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.requestsTotal.WithLabelValues("api.flickr.com", "HEAD", "error")), 0)
}

func TestTestRecorder(t *testing.T) {
	r := NewTestRecorder()
	r.RecordOperation(OpRun, StatusSuccess)
	r.AddRecords(OpChunkCommit, StatusCommitted, 10)
	r.AddRecords(OpChunkCommit, StatusCommitted, 5)
	r.RecordDuration(OpChunkCommit, 1.5)
	r.RecordError(OpFetchPage, "retry")

	assert.Equal(t, 1, r.GetOperationCount(OpRun, StatusSuccess))
	assert.Equal(t, 15, r.GetRecordCount(OpChunkCommit, StatusCommitted))
	assert.Equal(t, []float64{1.5}, r.GetDurations(OpChunkCommit))
	assert.Equal(t, 1, r.GetErrorCount(OpFetchPage, "retry"))
	assert.Zero(t, r.GetOperationCount("missing", StatusSuccess))

	r.Reset()
	assert.Zero(t, r.GetRecordCount(OpChunkCommit, StatusCommitted))
	assert.Nil(t, r.GetDurations(OpChunkCommit))
}
