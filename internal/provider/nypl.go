package provider

import (
	"bufio"
	"bytes"
	"context"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/httpclient"
	"github.com/openledger/imageledger/internal/license"
	"github.com/openledger/imageledger/internal/logger"
)

// NYPLName is the New York Public Library provider name.
const NYPLName = "nypl"

const (
	nyplImageURL     = "https://images.nypl.org/index.php?id="
	nyplMaxLineBytes = 16 << 20
	// Capture URLs end in a 3 character size selector.
	nyplLargeSuffix = "t=w"
	nyplThumbSuffix = "t=r"
)

// NYPL reads the digital collections either through the search API or from
// an NDJSON export. Export mode is selected by providers.nypl.file.
type NYPL struct {
	base
	cfg     conf.NYPLSettings
	limiter *rate.Limiter

	mu      sync.Mutex
	file    *os.File
	scanner *bufio.Scanner
	line    int
}

// NewNYPL builds the NYPL handler.
func NewNYPL(deps Deps) (Handler, error) {
	cfg := deps.Settings.NYPL
	if cfg.File == "" && cfg.Token == "" {
		return nil, errors.New(ErrMissingCredentials).
			Component("provider").
			Category(errors.CategoryConfiguration).
			Context("provider", NYPLName).
			Context("setting", "providers.nypl.token").
			Build()
	}
	n := &NYPL{base: newBase(NYPLName, deps, policyFrom(cfg.ProviderCommon)), cfg: cfg}
	if cfg.DailyQuota > 0 {
		n.limiter = rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(cfg.DailyQuota)), cfg.DailyQuota)
	}
	return n, nil
}

func (n *NYPL) Pagination() Pagination {
	if n.cfg.File != "" {
		return Pagination{Style: File, PerPage: n.cfg.PerPage}
	}
	return Pagination{Style: PageOneIndexed, Delay: n.cfg.Delay, PerPage: n.cfg.PerPage}
}

func (n *NYPL) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	if n.cfg.File != "" {
		return n.readChunk(ctx, req)
	}
	return n.search(ctx, req)
}

type nyplSearchResponse struct {
	NYPLAPI struct {
		Response struct {
			NumResults FlexInt         `json:"numResults"`
			Result     json.RawMessage `json:"result"`
		} `json:"response"`
	} `json:"nyplAPI"`
}

func (n *NYPL) search(ctx context.Context, req PageRequest) (*Page, error) {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := url.Values{
		"q":                {"still image"},
		"publicDomainOnly": {"true"},
		"field":            {"typeOfResource"},
		"page":             {strconv.Itoa(req.Page)},
		"per_page":         {strconv.Itoa(req.PerPage)},
	}
	if req.Search != "" {
		params.Set("q", req.Search)
	}
	for k, v := range req.Extra {
		params.Set(k, v)
	}

	var resp nyplSearchResponse
	err := n.fetchJSON(ctx, "items_search", buildURL(n.cfg.BaseURL, params), &resp,
		httpclient.WithHeader("Authorization", "Token token="+n.cfg.Token))
	if err != nil {
		return nil, err
	}

	records, err := splitResult(resp.NYPLAPI.Response.Result)
	if err != nil {
		return nil, &DecodeError{URL: n.cfg.BaseURL, Err: err}
	}

	page := &Page{
		Records:     records,
		CurrentPage: req.Page,
		TotalPages:  totalPages(resp.NYPLAPI.Response.NumResults.Int(), req.PerPage),
	}
	page.HasMore = len(records) > 0 && req.Page < page.TotalPages
	return page, nil
}

// splitResult accepts a result array, or a lone object for single hits.
func splitResult(raw json.RawMessage) ([]RawRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '{' {
		return []RawRecord{RawRecord(trimmed)}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	records := make([]RawRecord, 0, len(items))
	for _, it := range items {
		records = append(records, RawRecord(it))
	}
	return records, nil
}

// readChunk reads PerPage lines of the export starting at line Offset. The
// file stays open between sequential chunks; a non-sequential offset reopens
// it.
func (n *NYPL) readChunk(ctx context.Context, req PageRequest) (*Page, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.scanner == nil || req.Offset != n.line {
		if err := n.openAt(req.Offset); err != nil {
			return nil, err
		}
	}

	page := &Page{CurrentPage: req.Offset/max(req.PerPage, 1) + 1}
	for read := 0; read < req.PerPage; read++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !n.scanner.Scan() {
			if err := n.scanner.Err(); err != nil {
				return nil, errors.New(err).
					Component("provider").
					Category(errors.CategoryFileIO).
					Context("provider", NYPLName).
					Context("line", n.line+1).
					Build()
			}
			n.closeFile()
			return page, nil
		}
		n.line++

		line := bytes.TrimSpace(n.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec nyplExportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			n.log.Warn("skipping unreadable export line",
				logger.Int("line", n.line),
				logger.Error(err))
			continue
		}
		if !rec.isStillImage() {
			continue
		}
		page.Records = append(page.Records, RawRecord(bytes.Clone(line)))
	}
	page.HasMore = true
	return page, nil
}

func (n *NYPL) openAt(offset int) error {
	n.closeFile()

	f, err := os.Open(n.cfg.File)
	if err != nil {
		return errors.New(err).
			Component("provider").
			Category(errors.CategoryFileIO).
			Context("provider", NYPLName).
			Context("file", n.cfg.File).
			Build()
	}
	n.file = f
	n.scanner = bufio.NewScanner(f)
	n.scanner.Buffer(make([]byte, 64*1024), nyplMaxLineBytes)
	n.line = 0

	for n.line < offset && n.scanner.Scan() {
		n.line++
	}
	return n.scanner.Err()
}

func (n *NYPL) closeFile() {
	if n.file != nil {
		if err := n.file.Close(); err != nil {
			n.log.Debug("failed to close export file", logger.Error(err))
		}
	}
	n.file = nil
	n.scanner = nil
	n.line = 0
}

// Close releases the export file, if one is open.
func (n *NYPL) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closeFile()
	return nil
}

type nyplExportRecord struct {
	UUID                  string     `json:"UUID"`
	Title                 string     `json:"title"`
	ResourceType          stringList `json:"resourceType"`
	Captures              []string   `json:"captures"`
	DigitalCollectionsURL string     `json:"digitalCollectionsURL"`
	Contributor           []struct {
		ContributorName string `json:"contributorName"`
	} `json:"contributor"`
	SubjectName []struct {
		Text string `json:"text"`
	} `json:"subjectName"`

	// Search API fields. The API spells the id "uuid", which decodes into UUID.
	ImageID  FlexString `json:"imageID"`
	ItemLink string     `json:"itemLink"`
}

// stringList decodes a string or an array of strings.
type stringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = stringList{s}
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

func (r *nyplExportRecord) isStillImage() bool {
	if len(r.Captures) == 0 {
		return false
	}
	for _, t := range r.ResourceType {
		if strings.Contains(t, "still image") {
			return true
		}
	}
	return false
}

func (n *NYPL) Normalize(raw RawRecord) (*entities.Image, error) {
	var rec nyplExportRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, providerError(err, NYPLName, "normalize")
	}

	var img *entities.Image
	switch {
	case len(rec.Captures) > 0:
		capture := rec.Captures[0]
		if len(capture) < len(nyplLargeSuffix) {
			return nil, nil
		}
		stem := capture[:len(capture)-len(nyplLargeSuffix)]
		img = newImage(NYPLName, stem+nyplLargeSuffix)
		img.ThumbnailURL = stem + nyplThumbSuffix
		img.ForeignIdentifier = entities.StringPtr(rec.UUID)
		img.ForeignLandingURL = rec.DigitalCollectionsURL
	case rec.ImageID != "":
		stem := nyplImageURL + url.QueryEscape(string(rec.ImageID)) + "&"
		img = newImage(NYPLName, stem+nyplLargeSuffix)
		img.ThumbnailURL = stem + nyplThumbSuffix
		img.ForeignIdentifier = entities.StringPtr(rec.UUID)
		img.ForeignLandingURL = rec.ItemLink
	default:
		return nil, nil
	}

	img.Title = rec.Title
	if len(rec.Contributor) > 0 {
		img.Creator = rec.Contributor[0].ContributorName
	}
	img.License = licenseValue(string(license.CC0))
	img.LicenseVersion = n.licenses.Version(NYPLName)
	for _, s := range rec.SubjectName {
		if s.Text != "" {
			img.Tags = append(img.Tags, s.Text)
		}
	}
	return img, nil
}
