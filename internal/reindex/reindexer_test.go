package reindex

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openledger/imageledger/internal/datastore"
	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/identifier"
	"github.com/openledger/imageledger/internal/logger"
	"github.com/openledger/imageledger/internal/observability/metrics"
	"github.com/openledger/imageledger/internal/provider"
	"github.com/openledger/imageledger/internal/searchindex"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name   string
		lo, hi uint
		size   int
		want   []idRange
	}{
		{"exact", 1, 30, 10, []idRange{{1, 10}, {11, 20}, {21, 30}}},
		{"remainder", 1, 25, 10, []idRange{{1, 10}, {11, 20}, {21, 25}}},
		{"single id", 7, 7, 10, []idRange{{7, 7}}},
		{"offset start", 95, 105, 5, []idRange{{95, 99}, {100, 104}, {105, 105}}},
		{"empty", 5, 4, 10, nil},
		{"no size", 1, 10, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, partition(tt.lo, tt.hi, tt.size))
		})
	}
}

type testEnv struct {
	images   datastore.ImageRepository
	index    *searchindex.Memory
	sleeper  *provider.RecordingSleeper
	recorder *metrics.TestRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m, err := datastore.Open(&datastore.Config{Type: datastore.TypeSQLite, SQLitePath: ":memory:"},
		logger.NewSlogLogger(nil, logger.LogLevelError, nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return &testEnv{
		images:   datastore.NewImageRepository(m.DB()),
		index:    searchindex.NewMemory(),
		sleeper:  &provider.RecordingSleeper{},
		recorder: metrics.NewTestRecorder(),
	}
}

func (e *testEnv) reindexer(t *testing.T, index searchindex.Index) *Reindexer {
	t.Helper()
	r, err := NewReindexer(&Config{
		Images:     e.images,
		Index:      index,
		MaxRetries: 3,
		RetryWait:  time.Second,
		Sleeper:    e.sleeper,
		Metrics:    e.recorder,
	})
	require.NoError(t, err)
	return r
}

// seed stores n images and marks every image whose number is divisible by
// removedMod as removed from source.
func (e *testEnv) seed(t *testing.T, n, removedMod int) {
	t.Helper()
	images := make([]*entities.Image, 0, n)
	for i := range n {
		url := fmt.Sprintf("https://images.example.org/%d.jpg", i)
		images = append(images, &entities.Image{
			Identifier: identifier.Derive(url),
			Provider:   "met",
			Source:     "met",
			URL:        url,
			License:    "cc0",
		})
	}
	require.NoError(t, e.images.BulkInsert(t.Context(), images))

	if removedMod <= 0 {
		return
	}
	for i, img := range images {
		if i%removedMod == 0 {
			img.RemovedFromSource = true
			require.NoError(t, e.images.UpdateSyncState(t.Context(), img))
		}
	}
}

func TestRun_IndexesLiveImages(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 25, 5)

	res, err := env.reindexer(t, env.index).Run(t.Context(), Options{ChunkSize: 10, Workers: 3})
	require.NoError(t, err)

	assert.Equal(t, 20, res.Indexed)
	assert.Equal(t, 20, env.index.Len())
	assert.Zero(t, res.Retries)
	assert.Equal(t, res.Ranges, env.recorder.GetOperationCount(metrics.OpRange, metrics.StatusSuccess))
	assert.Equal(t, 1, env.recorder.GetOperationCount(metrics.OpRun, metrics.StatusSuccess))
}

func TestRun_RecreateDropsStaleDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 5, 0)
	require.NoError(t, env.index.BulkUpsert(t.Context(), []searchindex.Document{{Identifier: "stale"}}))

	_, err := env.reindexer(t, env.index).Run(t.Context(), Options{Recreate: true})
	require.NoError(t, err)

	assert.Equal(t, 5, env.index.Len())
	_, ok := env.index.Get("stale")
	assert.False(t, ok)
}

func TestRun_Empty(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.reindexer(t, env.index).Run(t.Context(), Options{})
	require.NoError(t, err)
	assert.Zero(t, res.Ranges)
	assert.Zero(t, env.index.Upserts())
}

// flakyIndex fails the first failures upserts.
type flakyIndex struct {
	*searchindex.Memory
	mu       sync.Mutex
	failures int
}

func (f *flakyIndex) BulkUpsert(ctx context.Context, docs []searchindex.Document) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.NewStd("cluster overloaded")
	}
	f.mu.Unlock()
	return f.Memory.BulkUpsert(ctx, docs)
}

func TestRun_RetriesWithFixedWait(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 5, 0)
	index := &flakyIndex{Memory: env.index, failures: 2}

	res, err := env.reindexer(t, index).Run(t.Context(), Options{Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, 5, env.index.Len())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, env.sleeper.Calls())
}

func TestRun_RetriesExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 5, 0)
	index := &flakyIndex{Memory: env.index, failures: 100}

	_, err := env.reindexer(t, index).Run(t.Context(), Options{Workers: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryRetry))
	assert.Len(t, env.sleeper.Calls(), 3)
	assert.Equal(t, 1, env.recorder.GetOperationCount(metrics.OpRange, metrics.StatusError))
}

func TestRun_Cancelled(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 5, 0)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := env.reindexer(t, env.index).Run(ctx, Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewReindexer_Defaults(t *testing.T) {
	env := newTestEnv(t)
	r, err := NewReindexer(&Config{Images: env.images, Index: env.index})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, r.maxRetries)
	assert.Equal(t, DefaultRetryWait, r.retryWait)

	_, err = NewReindexer(&Config{})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
