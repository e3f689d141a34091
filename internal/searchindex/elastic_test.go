package searchindex

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/logger"
)

const testESBase = "http://es.test:9200"

// esResponse builds a response carrying the product header the client
// requires.
func esResponse(status int, body string) *http.Response {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("X-Elastic-Product", "Elasticsearch")
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

func newTestElastic(t *testing.T) (*Elastic, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	idx, err := NewElastic(ElasticConfig{
		Addresses: []string{testESBase},
		IndexName: "image",
		Transport: transport,
	}, logger.NewSlogLogger(nil, logger.LogLevelError, nil))
	require.NoError(t, err)
	return idx, transport
}

func testDocs() []Document {
	return []Document{
		{Identifier: "a", Provider: "flickr", URL: "https://x/a.jpg", License: "by", Tags: []string{"cat"}},
		{Identifier: "b", Provider: "met", URL: "https://x/b.jpg", License: "cc0"},
	}
}

// ndjsonLines splits a bulk body into decoded lines.
func ndjsonLines(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	return lines
}

func TestEncodeUpserts(t *testing.T) {
	t.Parallel()
	body, err := encodeUpserts(testDocs())
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(body, []byte("\n")), "bulk body must end with a newline")

	lines := ndjsonLines(t, body)
	require.Len(t, lines, 4)
	assert.Equal(t, map[string]any{"index": map[string]any{"_id": "a"}}, lines[0])
	assert.Equal(t, "a", lines[1]["identifier"])
	assert.Equal(t, map[string]any{"index": map[string]any{"_id": "b"}}, lines[2])
	assert.Equal(t, "cc0", lines[3]["license"])
}

func TestEncodeDeletes(t *testing.T) {
	t.Parallel()
	body, err := encodeDeletes([]string{"x", "y"})
	require.NoError(t, err)
	lines := ndjsonLines(t, body)
	require.Len(t, lines, 2)
	assert.Equal(t, map[string]any{"delete": map[string]any{"_id": "y"}}, lines[1])
}

func TestElastic_BulkUpsert(t *testing.T) {
	t.Parallel()
	idx, transport := newTestElastic(t)

	var captured []byte
	transport.RegisterResponder(http.MethodPost, testESBase+"/image/_bulk",
		func(req *http.Request) (*http.Response, error) {
			captured, _ = io.ReadAll(req.Body)
			return esResponse(http.StatusOK, `{"errors":false,"items":[
				{"index":{"_id":"a","status":201}},{"index":{"_id":"b","status":200}}]}`), nil
		})

	require.NoError(t, idx.BulkUpsert(context.Background(), testDocs()))
	assert.Equal(t, 1, transport.GetTotalCallCount())
	assert.Len(t, ndjsonLines(t, captured), 4)
}

func TestElastic_BulkUpsertEmptyIsNoop(t *testing.T) {
	t.Parallel()
	idx, transport := newTestElastic(t)
	require.NoError(t, idx.BulkUpsert(context.Background(), nil))
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestElastic_BulkUpsertItemErrors(t *testing.T) {
	t.Parallel()
	idx, transport := newTestElastic(t)
	transport.RegisterResponder(http.MethodPost, testESBase+"/image/_bulk",
		func(*http.Request) (*http.Response, error) {
			return esResponse(http.StatusOK, `{"errors":true,"items":[
				{"index":{"_id":"a","status":201}},
				{"index":{"_id":"b","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad width"}}}]}`), nil
		})

	err := idx.BulkUpsert(context.Background(), testDocs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 bulk items failed")
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
	assert.True(t, errors.IsCategory(err, errors.CategorySearchIndex))
}

func TestElastic_BulkUpsertHTTPError(t *testing.T) {
	t.Parallel()
	idx, transport := newTestElastic(t)
	transport.RegisterResponder(http.MethodPost, testESBase+"/image/_bulk",
		func(*http.Request) (*http.Response, error) {
			return esResponse(http.StatusServiceUnavailable, `{"error":"unavailable"}`), nil
		})

	err := idx.BulkUpsert(context.Background(), testDocs())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategorySearchIndex))
}

func TestElastic_DeleteIgnoresMissing(t *testing.T) {
	t.Parallel()
	idx, transport := newTestElastic(t)
	transport.RegisterResponder(http.MethodPost, testESBase+"/image/_bulk",
		func(*http.Request) (*http.Response, error) {
			return esResponse(http.StatusOK, `{"errors":true,"items":[
				{"delete":{"_id":"x","status":200}},
				{"delete":{"_id":"y","status":404,"error":{"type":"not_found","reason":"missing"}}}]}`), nil
		})

	assert.NoError(t, idx.Delete(context.Background(), []string{"x", "y"}))
}

func TestElastic_WaitForHealth(t *testing.T) {
	t.Parallel()
	idx, transport := newTestElastic(t)
	transport.RegisterResponder(http.MethodGet, `=~^http://es\.test:9200/_cluster/health`,
		func(*http.Request) (*http.Response, error) {
			return esResponse(http.StatusOK, `{"status":"yellow","timed_out":false}`), nil
		})

	require.NoError(t, idx.WaitForHealth(context.Background()))
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestElastic_WaitForHealthCancelled(t *testing.T) {
	t.Parallel()
	idx, transport := newTestElastic(t)
	transport.RegisterResponder(http.MethodGet, `=~^http://es\.test:9200/_cluster/health`,
		func(*http.Request) (*http.Response, error) {
			return esResponse(http.StatusRequestTimeout, `{"status":"red","timed_out":true}`), nil
		})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := idx.WaitForHealth(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
}

func TestElastic_Recreate(t *testing.T) {
	t.Parallel()
	idx, transport := newTestElastic(t)
	transport.RegisterResponder(http.MethodDelete, `=~^http://es\.test:9200/image`,
		func(*http.Request) (*http.Response, error) {
			return esResponse(http.StatusNotFound, `{"error":"index_not_found_exception"}`), nil
		})

	var created []byte
	transport.RegisterResponder(http.MethodPut, testESBase+"/image",
		func(req *http.Request) (*http.Response, error) {
			created, _ = io.ReadAll(req.Body)
			return esResponse(http.StatusOK, `{"acknowledged":true}`), nil
		})

	require.NoError(t, idx.Recreate(context.Background()))

	var body map[string]any
	require.NoError(t, json.Unmarshal(created, &body))
	assert.Contains(t, body, "mappings")
}

func TestMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.BulkUpsert(ctx, testDocs()))
	require.NoError(t, m.BulkUpsert(ctx, testDocs()[:1]))
	assert.Equal(t, 2, m.Len(), "upsert by identifier must not duplicate")
	assert.Equal(t, 2, m.Upserts())

	require.NoError(t, m.Delete(ctx, []string{"a", "missing"}))
	assert.Equal(t, []string{"b"}, m.Identifiers())

	m.FailUpserts(errors.NewStd("boom"))
	assert.Error(t, m.BulkUpsert(ctx, testDocs()))
	m.FailUpserts(nil)

	require.NoError(t, m.Recreate(ctx))
	assert.Zero(t, m.Len())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, m.WaitForHealth(cancelled), context.Canceled)
}

func TestFromImage(t *testing.T) {
	t.Parallel()
	w, h := 640, 480
	img := &entities.Image{
		Identifier:        "id1",
		Provider:          "rijks",
		ForeignIdentifier: entities.StringPtr("SK-A-1"),
		URL:               "https://x/1.jpg",
		Width:             &w,
		Height:            &h,
		License:           "cc0",
		LicenseVersion:    "1.0",
		Tags:              []string{"painting"},
	}
	doc := FromImage(img)
	assert.Equal(t, "SK-A-1", doc.ForeignIdentifier)
	assert.Equal(t, 640, doc.Width)
	assert.Equal(t, 480, doc.Height)
	assert.Equal(t, []string{"painting"}, doc.Tags)

	doc = FromImage(&entities.Image{Identifier: "id2"})
	assert.Zero(t, doc.Width)
	assert.Empty(t, doc.ForeignIdentifier)
}
