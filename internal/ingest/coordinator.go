// Package ingest pulls records from a provider handler and commits them to
// the record store and the search index in fixed-size chunks.
package ingest

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/openledger/imageledger/internal/datastore"
	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/logger"
	"github.com/openledger/imageledger/internal/observability/metrics"
	"github.com/openledger/imageledger/internal/provider"
	"github.com/openledger/imageledger/internal/searchindex"
)

// DefaultChunkSize is the number of records committed per chunk.
const DefaultChunkSize = 1000

// Options configures one ingestion run.
type Options struct {
	ChunkSize int
	// MaxResults caps raw records pulled from API-backed handlers.
	// <= 0 means unlimited. File-backed handlers ignore it.
	MaxResults int
	StartPage  int
	PerPage    int
	Search     string
	// CheckExisting drops records already in the store before insert.
	CheckExisting bool
}

// Result summarizes a run. Committed is the success count. Skipped counts
// records the handler declined; Malformed counts payloads it could not read.
type Result struct {
	RunID         string
	Provider      string
	Attempted     int
	Normalized    int
	Skipped       int
	Malformed     int
	Duplicates    int
	Committed     int
	Chunks        int
	Conflicts     int
	IndexFailures int
	Pages         int
	Duration      time.Duration
}

// Config wires a Coordinator.
type Config struct {
	Images  datastore.ImageRepository
	Tags    datastore.TagRepository
	Index   searchindex.Index
	Metrics func(provider string) metrics.Recorder
	Sleeper provider.Sleeper
	Logger  logger.Logger
}

// Coordinator runs ingestion for any handler. It is safe to reuse across
// runs but a single run is sequential.
type Coordinator struct {
	images  datastore.ImageRepository
	tags    datastore.TagRepository
	index   searchindex.Index
	metrics func(provider string) metrics.Recorder
	sleeper provider.Sleeper
	log     logger.Logger
}

// NewCoordinator creates a Coordinator. Images and Index are required.
func NewCoordinator(cfg *Config) (*Coordinator, error) {
	if cfg == nil || cfg.Images == nil || cfg.Index == nil {
		return nil, errors.Newf("ingest coordinator requires an image repository and an index").
			Component("ingest").
			Category(errors.CategoryConfiguration).
			Build()
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = func(string) metrics.Recorder { return metrics.NopRecorder{} }
	}

	return &Coordinator{
		images:  cfg.Images,
		tags:    cfg.Tags,
		index:   cfg.Index,
		metrics: rec,
		sleeper: cfg.Sleeper,
		log:     log.Module("ingest"),
	}, nil
}

// Ingest walks h and commits its records chunk by chunk.
//
// A uniqueness conflict skips the chunk and the run continues; an index
// failure is logged and the run continues; any other store error or an
// exhausted fetch retry ends the run. Chunks committed before an error stay
// committed, and the partial Result is returned alongside the error.
func (c *Coordinator) Ingest(ctx context.Context, h provider.Handler, opts Options) (Result, error) {
	start := time.Now()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	r := &run{
		c:    c,
		h:    h,
		opts: opts,
		rec:  c.metrics(h.Name()),
		res:  Result{RunID: uuid.NewString(), Provider: h.Name()},
	}
	r.log = c.log.With(
		logger.String("run_id", r.res.RunID),
		logger.String("provider", h.Name()))

	if closer, ok := h.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				r.log.Warn("failed to close handler", logger.Error(err))
			}
		}()
	}

	r.walker = provider.Walk(h, provider.WalkOptions{
		Search:    opts.Search,
		StartPage: opts.StartPage,
		PerPage:   opts.PerPage,
		Sleeper:   c.sleeper,
		Logger:    c.log,
	})
	r.limit = opts.MaxResults
	if r.walker.Style() == provider.File {
		r.limit = 0
	}

	r.log.Info("ingestion started",
		logger.Int("chunk_size", opts.ChunkSize),
		logger.Int("max_results", r.limit),
		logger.String("pagination", r.walker.Style().String()))

	err := r.loop(ctx)

	r.res.Pages = r.walker.Pages()
	r.res.Duration = time.Since(start)
	r.rec.AddRecords(metrics.OpFetchPage, metrics.StatusAttempted, r.res.Attempted)
	r.rec.RecordDuration(metrics.OpRun, r.res.Duration.Seconds())

	fields := []logger.Field{
		logger.Int("attempted", r.res.Attempted),
		logger.Int("skipped", r.res.Skipped),
		logger.Int("malformed", r.res.Malformed),
		logger.Int("committed", r.res.Committed),
		logger.Int("chunks", r.res.Chunks),
		logger.Int("conflicts", r.res.Conflicts),
		logger.Int("index_failures", r.res.IndexFailures),
		logger.Duration("duration", r.res.Duration),
	}
	if err != nil {
		r.rec.RecordOperation(metrics.OpRun, metrics.StatusError)
		r.log.Error("ingestion failed", append(fields, logger.Error(err))...)
		return r.res, err
	}
	r.rec.RecordOperation(metrics.OpRun, metrics.StatusSuccess)
	r.log.Info("ingestion finished", fields...)
	return r.res, nil
}

// run is the state of one Ingest call.
type run struct {
	c      *Coordinator
	h      provider.Handler
	opts   Options
	walker *provider.Walker
	limit  int
	rec    metrics.Recorder
	log    logger.Logger
	res    Result
}

func (r *run) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		raws, done, err := r.pull(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			r.rec.RecordError(metrics.OpFetchPage, string(errorCategory(err)))
			return err
		}

		if len(raws) > 0 {
			if err := r.commit(ctx, r.normalize(raws)); err != nil {
				return err
			}
		}
		if done {
			return nil
		}
	}
}

// pull reads up to ChunkSize raw records. done reports that the walk or
// the result cap is exhausted.
func (r *run) pull(ctx context.Context) (raws []provider.RawRecord, done bool, err error) {
	want := r.opts.ChunkSize
	for len(raws) < want {
		if r.limit > 0 && r.res.Attempted >= r.limit {
			return raws, true, nil
		}
		raw, err := r.walker.Next(ctx)
		if errors.Is(err, provider.ErrWalkDone) {
			return raws, true, nil
		}
		if err != nil {
			return raws, false, err
		}
		r.res.Attempted++
		raws = append(raws, raw)
	}
	return raws, r.limit > 0 && r.res.Attempted >= r.limit, nil
}

// normalize converts raws, dropping skipped records and in-chunk duplicates.
func (r *run) normalize(raws []provider.RawRecord) []*entities.Image {
	images := make([]*entities.Image, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	skipped, malformed, duplicates := 0, 0, 0

	for _, raw := range raws {
		img, err := r.h.Normalize(raw)
		if err != nil {
			r.log.Warn("could not read record", logger.Error(err))
			r.rec.RecordError(metrics.OpNormalize, string(errorCategory(err)))
			malformed++
			continue
		}
		if img == nil {
			skipped++
			continue
		}
		if _, dup := seen[img.Identifier]; dup {
			duplicates++
			continue
		}
		seen[img.Identifier] = struct{}{}
		images = append(images, img)
	}

	r.res.Normalized += len(images)
	r.res.Skipped += skipped
	r.res.Malformed += malformed
	r.res.Duplicates += duplicates
	r.rec.AddRecords(metrics.OpNormalize, metrics.StatusSuccess, len(images))
	r.rec.AddRecords(metrics.OpNormalize, metrics.StatusSkipped, skipped)
	r.rec.AddRecords(metrics.OpNormalize, metrics.StatusMalformed, malformed)
	r.rec.AddRecords(metrics.OpNormalize, metrics.StatusDuplicate, duplicates)
	return images
}

// commit writes one chunk to the store, then the index.
func (r *run) commit(ctx context.Context, images []*entities.Image) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	if r.opts.CheckExisting && len(images) > 0 {
		var err error
		if images, err = r.dropExisting(ctx, images); err != nil {
			return err
		}
	}
	if len(images) == 0 {
		return nil
	}

	start := time.Now()
	if err := r.createTags(ctx, images); err != nil {
		return err
	}

	if err := r.c.images.BulkInsert(ctx, images); err != nil {
		if errors.Is(err, datastore.ErrDuplicateKey) {
			r.res.Conflicts++
			r.rec.RecordOperation(metrics.OpChunkCommit, metrics.StatusConflict)
			r.rec.AddRecords(metrics.OpChunkCommit, metrics.StatusConflict, len(images))
			r.log.Warn("chunk skipped on uniqueness conflict",
				logger.Int("chunk_size", len(images)),
				logger.Error(err))
			return nil
		}
		r.rec.RecordOperation(metrics.OpChunkCommit, metrics.StatusError)
		r.rec.RecordError(metrics.OpChunkCommit, string(errorCategory(err)))
		return err
	}

	if err := r.c.index.BulkUpsert(ctx, searchindex.FromImages(images)); err != nil {
		r.res.IndexFailures++
		r.rec.RecordError(metrics.OpIndexUpsert, string(errorCategory(err)))
		r.log.Error("index upsert failed, chunk not counted",
			logger.Int("chunk_size", len(images)),
			logger.Error(err))
		return nil
	}

	r.res.Committed += len(images)
	r.res.Chunks++
	r.rec.RecordOperation(metrics.OpChunkCommit, metrics.StatusSuccess)
	r.rec.AddRecords(metrics.OpChunkCommit, metrics.StatusCommitted, len(images))
	r.rec.RecordDuration(metrics.OpChunkCommit, time.Since(start).Seconds())
	r.log.Debug("chunk committed",
		logger.Int("chunk", r.res.Chunks),
		logger.Int("chunk_size", len(images)),
		logger.Int("committed", r.res.Committed))
	return nil
}

func (r *run) dropExisting(ctx context.Context, images []*entities.Image) ([]*entities.Image, error) {
	ids := make([]string, len(images))
	for i, img := range images {
		ids[i] = img.Identifier
	}
	existing, err := r.c.images.ExistingIdentifiers(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return images, nil
	}

	kept := images[:0]
	for _, img := range images {
		if _, ok := existing[img.Identifier]; !ok {
			kept = append(kept, img)
		}
	}
	r.res.Duplicates += len(existing)
	r.rec.AddRecords(metrics.OpNormalize, metrics.StatusDuplicate, len(existing))
	return kept, nil
}

// createTags registers the chunk's tag names under the provider.
func (r *run) createTags(ctx context.Context, images []*entities.Image) error {
	if r.c.tags == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var tags []*entities.Tag
	for _, img := range images {
		for _, name := range img.Tags {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			tags = append(tags, &entities.Tag{Name: name, Source: r.h.Name()})
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return r.c.tags.BulkCreate(ctx, tags)
}

func cancelled(err error) error {
	return errors.New(err).
		Component("ingest").
		Category(errors.CategoryCancellation).
		Build()
}

// errorCategory returns the category of the first enhanced error in err's
// chain, or generic.
func errorCategory(err error) errors.ErrorCategory {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return errors.CategoryGeneric
}
