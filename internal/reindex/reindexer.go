// Package reindex rebuilds the search index from the record store.
package reindex

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openledger/imageledger/internal/datastore"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/logger"
	"github.com/openledger/imageledger/internal/observability/metrics"
	"github.com/openledger/imageledger/internal/provider"
	"github.com/openledger/imageledger/internal/searchindex"
)

const (
	DefaultChunkSize  = 1000
	DefaultWorkers    = 4
	DefaultMaxRetries = 5
	DefaultRetryWait  = 5 * time.Second
)

// Options configures one reindex run.
type Options struct {
	// ChunkSize is the width of each id range.
	ChunkSize int
	Workers   int
	// Recreate drops and recreates the index before loading.
	Recreate bool
}

// Result summarizes a reindex run.
type Result struct {
	Ranges   int
	Indexed  int
	Retries  int
	Duration time.Duration
}

// Config wires a Reindexer.
type Config struct {
	Images datastore.ImageRepository
	Index  searchindex.Index
	// MaxRetries and RetryWait control the fixed-wait retry of a range.
	// Zero values take the defaults.
	MaxRetries int
	RetryWait  time.Duration
	Sleeper    provider.Sleeper
	Metrics    metrics.Recorder
	Logger     logger.Logger
}

// Reindexer copies live images into the index in id ranges.
type Reindexer struct {
	images     datastore.ImageRepository
	index      searchindex.Index
	maxRetries int
	retryWait  time.Duration
	sleeper    provider.Sleeper
	rec        metrics.Recorder
	log        logger.Logger
}

// NewReindexer creates a Reindexer. Images and Index are required.
func NewReindexer(cfg *Config) (*Reindexer, error) {
	if cfg == nil || cfg.Images == nil || cfg.Index == nil {
		return nil, errors.Newf("reindexer requires an image repository and an index").
			Component("reindex").
			Category(errors.CategoryConfiguration).
			Build()
	}

	r := &Reindexer{
		images:     cfg.Images,
		index:      cfg.Index,
		maxRetries: cfg.MaxRetries,
		retryWait:  cfg.RetryWait,
		sleeper:    cfg.Sleeper,
		rec:        cfg.Metrics,
		log:        cfg.Logger,
	}
	if r.maxRetries <= 0 {
		r.maxRetries = DefaultMaxRetries
	}
	if r.retryWait <= 0 {
		r.retryWait = DefaultRetryWait
	}
	if r.sleeper == nil {
		r.sleeper = provider.TimerSleeper{}
	}
	if r.rec == nil {
		r.rec = metrics.NopRecorder{}
	}
	if r.log == nil {
		r.log = logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	}
	r.log = r.log.Module("reindex")
	return r, nil
}

// idRange is an inclusive span of image ids.
type idRange struct {
	lo, hi uint
}

// partition splits [lo, hi] into consecutive ranges of width size.
func partition(lo, hi uint, size int) []idRange {
	if size <= 0 || hi < lo {
		return nil
	}
	step := uint(size)
	ranges := make([]idRange, 0, (hi-lo)/step+1)
	for start := lo; ; start += step {
		end := start + step - 1
		if end >= hi || end < start {
			ranges = append(ranges, idRange{start, hi})
			return ranges
		}
		ranges = append(ranges, idRange{start, end})
	}
}

// Run optionally recreates the index, waits for it to be healthy and loads
// every live image. A range that still fails after MaxRetries fails the run.
func (r *Reindexer) Run(ctx context.Context, opts Options) (Result, error) {
	start := time.Now()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	if opts.Recreate {
		r.log.Info("recreating index")
		if err := r.index.Recreate(ctx); err != nil {
			return Result{}, err
		}
	}
	if err := r.index.WaitForHealth(ctx); err != nil {
		return Result{}, err
	}

	lo, hi, ok, err := r.images.IDRange(ctx)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		r.log.Info("nothing to index")
		return Result{Duration: time.Since(start)}, nil
	}

	ranges := partition(lo, hi, opts.ChunkSize)
	r.log.Info("reindex started",
		logger.Int("ranges", len(ranges)),
		logger.Int("workers", opts.Workers),
		logger.Uint64("min_id", uint64(lo)),
		logger.Uint64("max_id", uint64(hi)))

	work := make(chan idRange)
	results := make(chan rangeResult, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(work)
		for _, rg := range ranges {
			select {
			case work <- rg:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for range opts.Workers {
		g.Go(func() error {
			for rg := range work {
				res, err := r.indexRange(gctx, rg)
				results <- res
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	err = g.Wait()
	close(results)

	res := Result{}
	for rr := range results {
		if rr.done {
			res.Ranges++
		}
		res.Indexed += rr.indexed
		res.Retries += rr.retries
	}
	res.Duration = time.Since(start)
	r.rec.RecordDuration(metrics.OpRun, res.Duration.Seconds())

	if err != nil {
		if ctx.Err() != nil {
			err = errors.New(ctx.Err()).
				Component("reindex").
				Category(errors.CategoryCancellation).
				Build()
		}
		r.rec.RecordOperation(metrics.OpRun, metrics.StatusError)
		r.log.Error("reindex failed",
			logger.Int("ranges", res.Ranges),
			logger.Int("indexed", res.Indexed),
			logger.Error(err))
		return res, err
	}
	r.rec.RecordOperation(metrics.OpRun, metrics.StatusSuccess)
	r.log.Info("reindex finished",
		logger.Int("ranges", res.Ranges),
		logger.Int("indexed", res.Indexed),
		logger.Int("retries", res.Retries),
		logger.Duration("duration", res.Duration))
	return res, nil
}

type rangeResult struct {
	done    bool
	indexed int
	retries int
}

// indexRange loads one range and upserts it, retrying with a fixed wait.
func (r *Reindexer) indexRange(ctx context.Context, rg idRange) (rangeResult, error) {
	var res rangeResult
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			res.retries++
			r.log.Warn("retrying range",
				logger.Uint64("lo", uint64(rg.lo)),
				logger.Uint64("hi", uint64(rg.hi)),
				logger.Int("attempt", attempt),
				logger.Error(lastErr))
			if err := r.sleeper.Sleep(ctx, r.retryWait); err != nil {
				return res, err
			}
		}

		n, err := r.loadRange(ctx, rg)
		if err == nil {
			res.done = true
			res.indexed = n
			r.rec.RecordOperation(metrics.OpRange, metrics.StatusSuccess)
			r.rec.AddRecords(metrics.OpIndexUpsert, metrics.StatusSuccess, n)
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		lastErr = err
		r.rec.RecordError(metrics.OpRange, string(errors.CategorySearchIndex))
	}

	r.rec.RecordOperation(metrics.OpRange, metrics.StatusError)
	return res, errors.New(lastErr).
		Component("reindex").
		Category(errors.CategoryRetry).
		Context("lo", rg.lo).
		Context("hi", rg.hi).
		Context("attempts", r.maxRetries+1).
		Build()
}

func (r *Reindexer) loadRange(ctx context.Context, rg idRange) (int, error) {
	images, err := r.images.ListIndexableInRange(ctx, rg.lo, rg.hi)
	if err != nil {
		return 0, err
	}
	if len(images) == 0 {
		return 0, nil
	}
	if err := r.index.BulkUpsert(ctx, searchindex.FromImages(images)); err != nil {
		return 0, err
	}
	return len(images), nil
}
