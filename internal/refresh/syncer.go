// Package refresh re-checks stored images against their source URLs.
//
// Each image is probed with a HEAD request. A non-2xx answer or a transport
// failure marks it removed from source; every probed image gets a new
// last-synced timestamp. Changes are mirrored to the search index chunk by
// chunk.
package refresh

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openledger/imageledger/internal/datastore"
	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/httpclient"
	"github.com/openledger/imageledger/internal/logger"
	"github.com/openledger/imageledger/internal/observability/metrics"
	"github.com/openledger/imageledger/internal/searchindex"
)

const (
	DefaultChunkSize    = 1000
	DefaultLanes        = 4
	DefaultProbeTimeout = 10 * time.Second
)

// Options configures one sync run.
type Options struct {
	ChunkSize int
	// Lanes is the number of concurrent workers, each owning a contiguous
	// slice of the snapshot.
	Lanes int
	// Limit caps the snapshot. 0 syncs every live image.
	Limit           int
	WithFingerprint bool
}

// Result summarizes a sync run.
type Result struct {
	Checked       int
	Removed       int
	Fingerprinted int
	IndexFailures int
	Duration      time.Duration
}

// Config wires a Syncer.
type Config struct {
	Images        datastore.ImageRepository
	Index         searchindex.Index
	Client        *httpclient.Client
	Fingerprinter Fingerprinter
	ProbeTimeout  time.Duration
	Metrics       metrics.Recorder
	Logger        logger.Logger
	// Now is the clock used for last-synced timestamps.
	Now func() time.Time
}

// Syncer probes stored images.
type Syncer struct {
	images       datastore.ImageRepository
	index        searchindex.Index
	client       *httpclient.Client
	fp           Fingerprinter
	probeTimeout time.Duration
	rec          metrics.Recorder
	log          logger.Logger
	now          func() time.Time
}

// NewSyncer creates a Syncer. Images, Index and Client are required.
func NewSyncer(cfg *Config) (*Syncer, error) {
	if cfg == nil || cfg.Images == nil || cfg.Index == nil || cfg.Client == nil {
		return nil, errors.Newf("syncer requires an image repository, an index and an HTTP client").
			Component("refresh").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Syncer{
		images:       cfg.Images,
		index:        cfg.Index,
		client:       cfg.Client,
		fp:           cfg.Fingerprinter,
		probeTimeout: cfg.ProbeTimeout,
		rec:          cfg.Metrics,
		log:          cfg.Logger,
		now:          cfg.Now,
	}
	if s.probeTimeout <= 0 {
		s.probeTimeout = DefaultProbeTimeout
	}
	if s.rec == nil {
		s.rec = metrics.NopRecorder{}
	}
	if s.log == nil {
		s.log = logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	}
	s.log = s.log.Module("refresh")
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// counters are shared by all lanes of a run.
type counters struct {
	checked       atomic.Int64
	removed       atomic.Int64
	fingerprinted atomic.Int64
	indexFailures atomic.Int64
}

func (c *counters) result() Result {
	return Result{
		Checked:       int(c.checked.Load()),
		Removed:       int(c.removed.Load()),
		Fingerprinted: int(c.fingerprinted.Load()),
		IndexFailures: int(c.indexFailures.Load()),
	}
}

// Sync snapshots live image ids, least recently synced first, and probes
// them in parallel lanes. The first lane error cancels the others; the
// counts gathered so far are returned with it.
func (s *Syncer) Sync(ctx context.Context, opts Options) (Result, error) {
	start := time.Now()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Lanes <= 0 {
		opts.Lanes = DefaultLanes
	}

	ids, err := s.images.ListIDsBySyncAge(ctx, opts.Limit)
	if err != nil {
		return Result{}, err
	}

	lanes := splitLanes(ids, opts.Lanes)
	s.log.Info("sync started",
		logger.Int("images", len(ids)),
		logger.Int("lanes", len(lanes)),
		logger.Int("chunk_size", opts.ChunkSize),
		logger.Bool("fingerprint", opts.WithFingerprint))

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	for i, lane := range lanes {
		g.Go(func() error {
			return s.syncLane(gctx, i, lane, opts, &c)
		})
	}
	err = g.Wait()

	res := c.result()
	res.Duration = time.Since(start)
	s.rec.RecordDuration(metrics.OpRun, res.Duration.Seconds())

	fields := []logger.Field{
		logger.Int("checked", res.Checked),
		logger.Int("removed", res.Removed),
		logger.Int("fingerprinted", res.Fingerprinted),
		logger.Int("index_failures", res.IndexFailures),
		logger.Duration("duration", res.Duration),
	}
	if err != nil {
		if ctx.Err() != nil {
			err = errors.New(ctx.Err()).
				Component("refresh").
				Category(errors.CategoryCancellation).
				Build()
		}
		s.rec.RecordOperation(metrics.OpRun, metrics.StatusError)
		s.log.Error("sync failed", append(fields, logger.Error(err))...)
		return res, err
	}
	s.rec.RecordOperation(metrics.OpRun, metrics.StatusSuccess)
	s.log.Info("sync finished", fields...)
	return res, nil
}

// splitLanes cuts ids into at most n contiguous, disjoint slices of nearly
// equal length.
func splitLanes(ids []uint, n int) [][]uint {
	if len(ids) == 0 {
		return nil
	}
	n = min(n, len(ids))
	lanes := make([][]uint, 0, n)
	size, extra := len(ids)/n, len(ids)%n
	lo := 0
	for i := range n {
		hi := lo + size
		if i < extra {
			hi++
		}
		lanes = append(lanes, ids[lo:hi])
		lo = hi
	}
	return lanes
}

func (s *Syncer) syncLane(ctx context.Context, lane int, ids []uint, opts Options, c *counters) error {
	log := s.log.With(logger.Int("lane", lane))
	log.Debug("lane started", logger.Int("images", len(ids)))

	for lo := 0; lo < len(ids); lo += opts.ChunkSize {
		hi := min(lo+opts.ChunkSize, len(ids))
		images, err := s.images.GetByIDs(ctx, ids[lo:hi])
		if err != nil {
			return err
		}

		var removed []string
		var live []*entities.Image
		for _, img := range images {
			if err := s.syncImage(ctx, img, opts, c); err != nil {
				return err
			}
			if img.RemovedFromSource {
				removed = append(removed, img.Identifier)
			} else {
				live = append(live, img)
			}
		}
		s.mirror(ctx, log, removed, live, c)
	}
	return nil
}

// syncImage probes one image and persists its sync state. Cancellation
// returns before anything is written.
func (s *Syncer) syncImage(ctx context.Context, img *entities.Image, opts Options, c *counters) error {
	alive, err := s.probe(ctx, img.URL)
	if err != nil {
		return err
	}

	if alive {
		s.rec.RecordOperation(metrics.OpProbe, metrics.StatusSuccess)
		if opts.WithFingerprint && s.fp != nil && (img.PerceptualHash == nil || *img.PerceptualHash == "") {
			s.fingerprint(ctx, img, c)
		}
	} else {
		img.RemovedFromSource = true
		c.removed.Add(1)
		s.rec.RecordOperation(metrics.OpProbe, metrics.StatusRemoved)
	}

	now := s.now()
	img.LastSyncedAt = &now
	if err := s.images.UpdateSyncState(ctx, img); err != nil {
		return err
	}
	c.checked.Add(1)
	return nil
}

// probe reports whether url answers a HEAD request with 2xx. Only
// cancellation of ctx is returned as an error; every other failure means
// the image is gone.
func (s *Syncer) probe(ctx context.Context, url string) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	resp, err := s.client.Head(probeCtx, url)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.log.Debug("probe failed",
			logger.String("url", logger.RedactURL(url)),
			logger.Error(err))
		return false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		s.log.Debug("image gone from source",
			logger.String("url", logger.RedactURL(url)),
			logger.Int("status", resp.StatusCode))
		return false, nil
	}
	return true, nil
}

func (s *Syncer) fingerprint(ctx context.Context, img *entities.Image, c *counters) {
	start := time.Now()
	hash, err := s.fp.Fingerprint(ctx, img.URL)
	if err != nil {
		s.rec.RecordError(metrics.OpFingerprint, "decode")
		s.log.Warn("fingerprint failed",
			logger.String("identifier", img.Identifier),
			logger.Error(err))
		return
	}
	img.PerceptualHash = entities.StringPtr(hash)
	c.fingerprinted.Add(1)
	s.rec.RecordDuration(metrics.OpFingerprint, time.Since(start).Seconds())
}

// mirror deletes removed images from the index and refreshes the rest.
// Failures are logged; the store remains the source of truth.
func (s *Syncer) mirror(ctx context.Context, log logger.Logger, removed []string, live []*entities.Image, c *counters) {
	if len(removed) > 0 {
		if err := s.index.Delete(ctx, removed); err != nil {
			c.indexFailures.Add(1)
			s.rec.RecordError(metrics.OpIndexDelete, "search-index")
			log.Error("index delete failed", logger.Int("count", len(removed)), logger.Error(err))
		}
	}
	if len(live) > 0 {
		if err := s.index.BulkUpsert(ctx, searchindex.FromImages(live)); err != nil {
			c.indexFailures.Add(1)
			s.rec.RecordError(metrics.OpIndexUpsert, "search-index")
			log.Error("index upsert failed", logger.Int("count", len(live)), logger.Error(err))
		}
	}
}
