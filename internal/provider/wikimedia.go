package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/httpclient"
	"github.com/openledger/imageledger/internal/license"
	"github.com/openledger/imageledger/internal/logger"
)

// WikimediaName is the Wikimedia provider name.
const WikimediaName = "wikimedia"

const (
	wikimediaStartCursor = "0:1"
	// wikimediaQueryLimit caps the depictions fetched per entity; pages are
	// cut from that result set locally.
	wikimediaQueryLimit = 100
	wikimediaTagsKey    = "tags"
)

// wikimediaQuery selects works that depict an entity (P180) and have an
// image (P18), newest first.
const wikimediaQuery = `PREFIX wd: <http://www.wikidata.org/entity/>
PREFIX wdt: <http://www.wikidata.org/prop/direct/>
PREFIX wikibase: <http://wikiba.se/ontology#>
PREFIX bd: <http://www.bigdata.com/rdf#>

SELECT ?item ?itemLabel ?creatorLabel ?pic ?creator
WHERE
{
	{?item wdt:P180 wd:%s .}
	?item wdt:P18 ?pic
	SERVICE wikibase:label { bd:serviceParam wikibase:language "en" }
	OPTIONAL { ?item wdt:P571 ?_inception. }
	OPTIONAL { ?item wdt:P170 ?creator }
}
ORDER BY DESC(?_inception)
LIMIT %d`

// Wikimedia searches Wikidata for works depicting each known tag. The
// cursor is "<tag index>:<page>"; a walk visits every tag in turn.
type Wikimedia struct {
	base
	cfg   conf.WikimediaSettings
	tags  TagSource
	cache *cache.Cache
}

// NewWikimedia builds the Wikimedia handler.
func NewWikimedia(deps Deps) (Handler, error) {
	cfg := deps.Settings.Wikimedia
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Wikimedia{
		base:  newBase(WikimediaName, deps, policyFrom(cfg.ProviderCommon)),
		cfg:   cfg,
		tags:  deps.Tags,
		cache: cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
	}, nil
}

func (w *Wikimedia) Pagination() Pagination {
	return Pagination{Style: Cursor, Delay: w.cfg.Delay, PerPage: w.cfg.PerPage, StartCursor: wikimediaStartCursor}
}

// parseWikimediaCursor splits "<tag index>:<page>".
func parseWikimediaCursor(cursor string) (term, page int, err error) {
	if cursor == "" {
		cursor = wikimediaStartCursor
	}
	left, right, ok := strings.Cut(cursor, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	if term, err = strconv.Atoi(left); err != nil || term < 0 {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	if page, err = strconv.Atoi(right); err != nil || page < 1 {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	return term, page, nil
}

func formatWikimediaCursor(term, page int) string {
	return strconv.Itoa(term) + ":" + strconv.Itoa(page)
}

// terms returns the search terms of a walk: the explicit search, or every
// known tag.
func (w *Wikimedia) terms(ctx context.Context, search string) ([]string, error) {
	if search != "" {
		return []string{search}, nil
	}
	if cached, found := w.cache.Get(wikimediaTagsKey); found {
		if names, ok := cached.([]string); ok {
			return names, nil
		}
	}
	if w.tags == nil {
		return nil, nil
	}
	names, err := w.tags.ListNames(ctx)
	if err != nil {
		return nil, providerError(err, WikimediaName, "list_tags")
	}
	w.cache.Set(wikimediaTagsKey, names, cache.DefaultExpiration)
	return names, nil
}

func (w *Wikimedia) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	termIdx, pageNum, err := parseWikimediaCursor(req.Cursor)
	if err != nil {
		return nil, errors.New(err).
			Component("provider").
			Category(errors.CategoryValidation).
			Context("provider", WikimediaName).
			Build()
	}

	terms, err := w.terms(ctx, req.Search)
	if err != nil {
		return nil, err
	}
	if len(terms) == 0 {
		w.log.Warn("no tags to search for")
	}
	if termIdx >= len(terms) {
		return &Page{CurrentPage: pageNum}, nil
	}
	term := terms[termIdx]

	page := &Page{CurrentPage: pageNum}
	// Moves on to the next term; set again below if this one has more.
	page.NextCursor = formatWikimediaCursor(termIdx+1, 1)
	page.HasMore = termIdx+1 < len(terms)

	entityID, err := w.entity(ctx, term)
	if err != nil {
		return nil, err
	}
	if entityID == "" {
		w.log.Debug("no entity for tag", logger.String("tag", term))
		return page, nil
	}

	bindings, err := w.depictions(ctx, entityID)
	if err != nil {
		return nil, err
	}

	page.TotalPages = totalPages(len(bindings), req.PerPage)
	start := (pageNum - 1) * req.PerPage
	if start < len(bindings) {
		end := min(start+req.PerPage, len(bindings))
		page.Records = bindings[start:end]
	}
	if pageNum < page.TotalPages {
		page.NextCursor = formatWikimediaCursor(termIdx, pageNum+1)
		page.HasMore = true
	}
	return page, nil
}

// entity resolves a search term to its best Wikidata entity id, or "" when
// there is none. Results are cached, misses included.
func (w *Wikimedia) entity(ctx context.Context, term string) (string, error) {
	key := "entity:" + term
	if cached, found := w.cache.Get(key); found {
		if id, ok := cached.(string); ok {
			return id, nil
		}
	}

	params := url.Values{
		"search":   {term},
		"language": {"en"},
		"action":   {"wbsearchentities"},
		"format":   {"json"},
		"limit":    {"1"},
	}
	var raw json.RawMessage
	if err := w.fetchJSON(ctx, "entity_search", buildURL(w.cfg.BaseURL, params), &raw); err != nil {
		return "", err
	}

	obj, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		return "", &DecodeError{URL: w.cfg.BaseURL, Err: err}
	}
	var id string
	if results, err := obj.GetObjectArray("search"); err == nil && len(results) > 0 {
		id, _ = results[0].GetString("id")
	}
	w.cache.Set(key, id, cache.DefaultExpiration)
	return id, nil
}

// depictions runs the depiction query for an entity and returns its result
// bindings. Results are cached per entity since pagination is local.
func (w *Wikimedia) depictions(ctx context.Context, entityID string) ([]RawRecord, error) {
	key := "sparql:" + entityID
	if cached, found := w.cache.Get(key); found {
		if records, ok := cached.([]RawRecord); ok {
			return records, nil
		}
	}

	params := url.Values{
		"query":  {fmt.Sprintf(wikimediaQuery, entityID, wikimediaQueryLimit)},
		"format": {"json"},
	}
	var resp struct {
		Results struct {
			Bindings []json.RawMessage `json:"bindings"`
		} `json:"results"`
	}
	err := w.fetchJSON(ctx, "sparql", buildURL(w.cfg.SparqlURL, params), &resp,
		httpclient.WithHeader("Accept", "application/sparql-results+json"))
	if err != nil {
		return nil, err
	}

	records := make([]RawRecord, 0, len(resp.Results.Bindings))
	for _, b := range resp.Results.Bindings {
		records = append(records, RawRecord(b))
	}
	w.cache.Set(key, records, cache.DefaultExpiration)
	return records, nil
}

func (w *Wikimedia) Normalize(raw RawRecord) (*entities.Image, error) {
	binding, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		return nil, providerError(err, WikimediaName, "normalize")
	}

	pic, err := binding.GetString("pic", "value")
	if err != nil || pic == "" {
		return nil, nil
	}
	creator, err := binding.GetString("creatorLabel", "value")
	if err != nil || creator == "" {
		return nil, nil
	}

	img := newImage(WikimediaName, pic)
	img.ThumbnailURL = pic
	img.Creator = creator
	img.License = licenseValue(string(license.CC0))
	img.LicenseVersion = w.licenses.Version(WikimediaName)
	img.ForeignLandingURL, _ = binding.GetString("item", "value")
	if label, err := binding.GetString("itemLabel", "value"); err == nil {
		img.Title = label
		img.ForeignIdentifier = entities.StringPtr(label)
	}
	if kind, err := binding.GetString("creator", "type"); err == nil && kind == "uri" {
		img.CreatorURL, _ = binding.GetString("creator", "value")
	}
	return img, nil
}
