package provider

import (
	"context"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/license"
	"github.com/openledger/imageledger/internal/logger"
)

// EuropeanaName is the Europeana provider name.
const EuropeanaName = "europeana"

const (
	europeanaStartCursor  = "*"
	europeanaPublicDomain = "1.0"
)

// Europeana pages through the Europeana search API with its cursor. Each
// record carries its own rights URL.
type Europeana struct {
	base
	cfg   conf.EuropeanaSettings
	lower cases.Caser
}

// NewEuropeana builds the Europeana handler.
func NewEuropeana(deps Deps) (Handler, error) {
	cfg := deps.Settings.Europeana
	if cfg.APIKey == "" {
		return nil, errors.New(ErrMissingCredentials).
			Component("provider").
			Category(errors.CategoryConfiguration).
			Context("provider", EuropeanaName).
			Context("setting", "providers.europeana.api_key").
			Build()
	}
	return &Europeana{
		base:  newBase(EuropeanaName, deps, policyFrom(cfg.ProviderCommon)),
		cfg:   cfg,
		lower: cases.Lower(language.English),
	}, nil
}

func (e *Europeana) Pagination() Pagination {
	return Pagination{Style: Cursor, Delay: e.cfg.Delay, PerPage: e.cfg.PerPage, StartCursor: europeanaStartCursor}
}

type europeanaResponse struct {
	Success      *bool             `json:"success"`
	Error        string            `json:"error"`
	TotalResults FlexInt           `json:"totalResults"`
	NextCursor   string            `json:"nextCursor"`
	Items        []json.RawMessage `json:"items"`
}

type europeanaItem struct {
	ID                           string              `json:"id"`
	GUID                         string              `json:"guid"`
	Title                        []string            `json:"title"`
	DCCreator                    []string            `json:"dcCreator"`
	Rights                       []string            `json:"rights"`
	EDMIsShownBy                 []string            `json:"edmIsShownBy"`
	EDMConceptPrefLabelLangAware map[string][]string `json:"edmConceptPrefLabelLangAware"`
}

func (e *Europeana) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	cursor := req.Cursor
	if cursor == "" {
		cursor = europeanaStartCursor
	}
	query := e.cfg.Query
	if req.Search != "" {
		query = req.Search
	}
	params := url.Values{
		"query":       {query},
		"media":       {"true"},
		"qf":          {"IMAGE_SIZE:large", "IMAGE_SIZE:extra_large", "TYPE:IMAGE"},
		"reusability": {"open"},
		"profile":     {"rich"},
		"thumbnail":   {"true"},
		"rows":        {strconv.Itoa(req.PerPage)},
		"cursor":      {cursor},
		"wskey":       {e.cfg.APIKey},
	}
	for k, v := range req.Extra {
		params.Set(k, v)
	}

	var resp europeanaResponse
	if err := e.fetchJSON(ctx, "search", buildURL(e.cfg.BaseURL, params), &resp); err != nil {
		return nil, err
	}
	if resp.Success != nil && !*resp.Success {
		return nil, errors.Newf("europeana error: %s", resp.Error).
			Component("provider").
			Category(errors.CategoryProvider).
			Context("provider", EuropeanaName).
			Context("operation", "search").
			Build()
	}

	page := &Page{
		CurrentPage: req.Page,
		TotalPages:  resp.TotalResults.Int() / max(req.PerPage, 1),
		NextCursor:  resp.NextCursor,
		HasMore:     resp.NextCursor != "",
	}
	for _, it := range resp.Items {
		page.Records = append(page.Records, RawRecord(it))
	}
	return page, nil
}

func (e *Europeana) Normalize(raw RawRecord) (*entities.Image, error) {
	var item europeanaItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, providerError(err, EuropeanaName, "normalize")
	}
	if len(item.EDMIsShownBy) == 0 || item.EDMIsShownBy[0] == "" {
		return nil, nil
	}
	if len(item.Rights) == 0 {
		e.log.Debug("skipping item without rights", logger.String("id", item.ID))
		return nil, nil
	}
	code, version, err := license.ParseURL(item.Rights[0])
	if err != nil {
		e.log.Debug("skipping item with unrecognized rights",
			logger.String("id", item.ID),
			logger.String("rights", item.Rights[0]))
		return nil, nil
	}
	if version == "" {
		version = europeanaPublicDomain
	}

	imageURL := item.EDMIsShownBy[0]
	img := newImage(EuropeanaName, imageURL)
	img.ThumbnailURL = buildURL(e.cfg.ThumbnailURL, url.Values{
		"size": {"w200"},
		"type": {"IMAGE"},
		"uri":  {imageURL},
	})
	img.License = licenseValue(string(code))
	img.LicenseVersion = version
	img.ForeignLandingURL = item.GUID
	img.ForeignIdentifier = entities.StringPtr(item.ID)
	if len(item.DCCreator) > 0 {
		img.Creator = item.DCCreator[0]
	}
	if len(item.Title) > 0 {
		img.Title = item.Title[0]
	}
	for _, label := range item.EDMConceptPrefLabelLangAware["en"] {
		if label != "" {
			img.Tags = append(img.Tags, e.lower.String(label))
		}
	}
	return img, nil
}
