// Package provider adapts remote image collections to the canonical image
// record.
//
// Each provider implements Handler: it fetches one page of native records
// and normalizes a single record. Walk turns a Handler into a pull iterator
// that hides the provider's pagination style (1-based pages, 0-based pages,
// opaque cursors or offsets into an export file) and paces requests with a
// cancellable delay.
package provider

import (
	"context"
	"strings"
	"time"

	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/identifier"
)

// Style is a pagination style.
type Style int

const (
	// PageOneIndexed providers number their pages from 1.
	PageOneIndexed Style = iota
	// PageZeroIndexed providers number their pages from 0. Requests still
	// carry logical 1-based pages; the handler translates.
	PageZeroIndexed
	// Cursor providers return an opaque token for the next page.
	Cursor
	// File handlers read a local export; PageRequest.Offset is a line offset.
	File
)

func (s Style) String() string {
	switch s {
	case PageOneIndexed:
		return "page-1"
	case PageZeroIndexed:
		return "page-0"
	case Cursor:
		return "cursor"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// Pagination describes how a handler pages.
type Pagination struct {
	Style Style
	// Delay is the pause between two page fetches.
	Delay time.Duration
	// PerPage is the default page size.
	PerPage int
	// StartCursor is the first cursor for Cursor style handlers.
	StartCursor string
}

// PageRequest asks for one page. Page is logical and 1-based regardless of
// Style.
type PageRequest struct {
	Search  string
	Page    int
	PerPage int
	Cursor  string
	Offset  int
	Extra   map[string]string
}

// RawRecord is one provider-native record as JSON.
type RawRecord []byte

// Page is the result of one fetch.
type Page struct {
	Records     []RawRecord
	CurrentPage int
	TotalPages  int
	NextCursor  string
	HasMore     bool
}

// Handler is implemented by every provider.
type Handler interface {
	// Name is the provider name stored on every record.
	Name() string
	Pagination() Pagination
	// FetchPage issues one request, or reads one chunk of an export file.
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
	// Normalize maps a raw record to an image. A nil image with a nil error
	// means the record is skipped; an error means the payload could not be
	// read at all.
	Normalize(raw RawRecord) (*entities.Image, error)
}

// newImage returns an image for url with the identifier derived and the
// provider and source set.
func newImage(provider, url string) *entities.Image {
	return &entities.Image{
		Identifier: identifier.Derive(url),
		Provider:   provider,
		Source:     provider,
		URL:        url,
	}
}

// licenseValue is the stored form of a canonical license code.
func licenseValue(code string) string {
	return strings.ToLower(code)
}

// totalPages divides total records by the page size, rounding up.
func totalPages(total, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
