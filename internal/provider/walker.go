package provider

import (
	"context"
	"sync"
	"time"

	"github.com/openledger/imageledger/internal/logger"
)

// Sleeper pauses between requests. Implementations must return early with
// ctx.Err() when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a timer.
type TimerSleeper struct{}

// Sleep waits for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RecordingSleeper records requested pauses and returns immediately.
type RecordingSleeper struct {
	mu    sync.Mutex
	calls []time.Duration
}

// Sleep records d.
func (r *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
	return nil
}

// Calls returns the recorded pauses in order.
func (r *RecordingSleeper) Calls() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.calls))
	copy(out, r.calls)
	return out
}

// WalkOptions configures Walk. Zero values take the handler's defaults.
type WalkOptions struct {
	Search    string
	StartPage int
	PerPage   int
	// Cursor overrides Pagination.StartCursor, for resuming a cursor walk.
	Cursor  string
	Extra   map[string]string
	Sleeper Sleeper
	Logger  logger.Logger
}

// Walker pulls records from a handler one at a time.
type Walker struct {
	h       Handler
	style   Style
	delay   time.Duration
	sleeper Sleeper
	log     logger.Logger

	req     PageRequest
	buf     []RawRecord
	pages   int
	records int
	done    bool
}

// Walk returns a walker positioned before the first record. No request is
// made until Next is called.
func Walk(h Handler, opts WalkOptions) *Walker {
	p := h.Pagination()

	req := PageRequest{
		Search:  opts.Search,
		Page:    opts.StartPage,
		PerPage: opts.PerPage,
		Cursor:  opts.Cursor,
		Extra:   opts.Extra,
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 {
		req.PerPage = p.PerPage
	}
	if req.Cursor == "" {
		req.Cursor = p.StartCursor
	}
	if p.Style == File && opts.StartPage > 1 {
		req.Offset = (opts.StartPage - 1) * req.PerPage
	}

	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	}

	return &Walker{
		h:       h,
		style:   p.Style,
		delay:   p.Delay,
		sleeper: sleeper,
		log:     log.Module("walk").With(logger.String("provider", h.Name())),
		req:     req,
	}
}

// Next returns the next raw record, or ErrWalkDone after the last one.
// Fetch errors are returned as is and leave the walker where it was, so a
// caller may call Next again to retry the same page.
func (w *Walker) Next(ctx context.Context) (RawRecord, error) {
	for len(w.buf) == 0 {
		if w.done {
			return nil, ErrWalkDone
		}
		if err := w.fetch(ctx); err != nil {
			return nil, err
		}
	}
	rec := w.buf[0]
	w.buf = w.buf[1:]
	w.records++
	return rec, nil
}

func (w *Walker) fetch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.pages > 0 && w.delay > 0 {
		if err := w.sleeper.Sleep(ctx, w.delay); err != nil {
			return err
		}
	}

	page, err := w.h.FetchPage(ctx, w.req)
	if err != nil {
		return err
	}
	w.pages++
	w.buf = page.Records

	w.log.Debug("fetched page",
		logger.Int("page", w.req.Page),
		logger.String("cursor", w.req.Cursor),
		logger.Int("records", len(page.Records)),
		logger.Int("total_pages", page.TotalPages),
		logger.Bool("has_more", page.HasMore))

	w.advance(page)
	return nil
}

// advance moves the request to the following page, or marks the walk done.
func (w *Walker) advance(page *Page) {
	if !page.HasMore {
		w.done = true
		return
	}
	switch w.style {
	case Cursor:
		if page.NextCursor == "" || page.NextCursor == w.req.Cursor {
			w.done = true
			return
		}
		w.req.Cursor = page.NextCursor
	case File:
		// Offset counts lines read, kept or not.
		w.req.Offset += w.req.PerPage
	default:
		// An empty page that claims more would otherwise loop forever.
		if len(page.Records) == 0 && page.TotalPages == 0 {
			w.done = true
			return
		}
		w.req.Page++
	}
}

// Pages returns how many pages have been fetched.
func (w *Walker) Pages() int {
	return w.pages
}

// Records returns how many records Next has returned.
func (w *Walker) Records() int {
	return w.records
}

// Style is the walked handler's pagination style.
func (w *Walker) Style() Style {
	return w.style
}
