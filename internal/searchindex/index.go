// Package searchindex mirrors stored images into a full-text search index.
//
// Documents are keyed by the image identifier so that repeated upserts of
// the same image overwrite rather than duplicate. Elastic talks to an
// Elasticsearch cluster; Memory is used by tests and when search is
// disabled in the configuration.
package searchindex

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/openledger/imageledger/internal/datastore/entities"
)

// Index is the search index contract used by ingestion, sync and reindex.
type Index interface {
	// BulkUpsert writes docs, replacing any document with the same identifier.
	BulkUpsert(ctx context.Context, docs []Document) error
	// Delete removes documents by identifier. Missing ids are ignored.
	Delete(ctx context.Context, identifiers []string) error
	// WaitForHealth blocks until the index can take writes or ctx is done.
	WaitForHealth(ctx context.Context) error
	// Recreate drops the index and creates it empty with the mapping.
	Recreate(ctx context.Context) error
}

// Document is the indexed form of an image.
type Document struct {
	Identifier        string    `json:"identifier"`
	Provider          string    `json:"provider"`
	Source            string    `json:"source"`
	ForeignIdentifier string    `json:"foreign_identifier,omitempty"`
	ForeignLandingURL string    `json:"foreign_landing_url,omitempty"`
	URL               string    `json:"url"`
	Thumbnail         string    `json:"thumbnail,omitempty"`
	Width             int       `json:"width,omitempty"`
	Height            int       `json:"height,omitempty"`
	License           string    `json:"license"`
	LicenseVersion    string    `json:"license_version,omitempty"`
	Creator           string    `json:"creator,omitempty"`
	CreatorURL        string    `json:"creator_url,omitempty"`
	Title             string    `json:"title,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	CreatedOn         time.Time `json:"created_on"`
}

// FromImage converts a stored image to its index document.
func FromImage(img *entities.Image) Document {
	doc := Document{
		Identifier:        img.Identifier,
		Provider:          img.Provider,
		Source:            img.Source,
		ForeignIdentifier: img.ForeignID(),
		ForeignLandingURL: img.ForeignLandingURL,
		URL:               img.URL,
		Thumbnail:         img.ThumbnailURL,
		License:           img.License,
		LicenseVersion:    img.LicenseVersion,
		Creator:           img.Creator,
		CreatorURL:        img.CreatorURL,
		Title:             img.Title,
		Tags:              img.Tags,
		CreatedOn:         img.CreatedAt,
	}
	if img.Width != nil {
		doc.Width = *img.Width
	}
	if img.Height != nil {
		doc.Height = *img.Height
	}
	return doc
}

// FromImages converts a batch of stored images.
func FromImages(images []*entities.Image) []Document {
	docs := make([]Document, 0, len(images))
	for _, img := range images {
		docs = append(docs, FromImage(img))
	}
	return docs
}

// Memory is an in-process Index. The zero value is not usable; use NewMemory.
type Memory struct {
	mu      sync.RWMutex
	docs    map[string]Document
	upserts int
	failErr error
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

// BulkUpsert stores docs by identifier.
func (m *Memory) BulkUpsert(ctx context.Context, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	for i := range docs {
		m.docs[docs[i].Identifier] = docs[i]
	}
	m.upserts++
	return nil
}

// Delete removes documents by identifier.
func (m *Memory) Delete(ctx context.Context, identifiers []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range identifiers {
		delete(m.docs, id)
	}
	return nil
}

// WaitForHealth always succeeds unless ctx is done.
func (m *Memory) WaitForHealth(ctx context.Context) error {
	return ctx.Err()
}

// Recreate drops all documents.
func (m *Memory) Recreate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.docs)
	return nil
}

// FailUpserts makes every following BulkUpsert return err. A nil err
// restores normal behavior.
func (m *Memory) FailUpserts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Len returns the number of documents held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Get returns the document for identifier.
func (m *Memory) Get(identifier string) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[identifier]
	return doc, ok
}

// Identifiers returns the held identifiers in sorted order.
func (m *Memory) Identifiers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.docs))
}

// Upserts returns how many successful BulkUpsert calls were made.
func (m *Memory) Upserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts
}
