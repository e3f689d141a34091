package provider

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/license"
	"github.com/openledger/imageledger/internal/logger"
)

// RijksName is the Rijksmuseum provider name.
const RijksName = "rijks"

const rijksThumbnailWidth = 200

// Rijks pages through the Rijksmuseum collection API. Its pages are
// 0-indexed and its imgonly filter is unreliable, so records without an
// image are also filtered here.
type Rijks struct {
	base
	cfg conf.RijksSettings
}

// NewRijks builds the Rijksmuseum handler.
func NewRijks(deps Deps) (Handler, error) {
	cfg := deps.Settings.Rijks
	if cfg.APIKey == "" {
		return nil, errors.New(ErrMissingCredentials).
			Component("provider").
			Category(errors.CategoryConfiguration).
			Context("provider", RijksName).
			Context("setting", "providers.rijks.api_key").
			Build()
	}
	return &Rijks{base: newBase(RijksName, deps, policyFrom(cfg.ProviderCommon)), cfg: cfg}, nil
}

func (r *Rijks) Pagination() Pagination {
	return Pagination{Style: PageZeroIndexed, Delay: r.cfg.Delay, PerPage: r.cfg.PerPage}
}

type rijksResponse struct {
	Count      FlexInt           `json:"count"`
	ArtObjects []json.RawMessage `json:"artObjects"`
}

type rijksObject struct {
	ObjectNumber          string          `json:"objectNumber"`
	LongTitle             string          `json:"longTitle"`
	Title                 string          `json:"title"`
	PrincipalOrFirstMaker string          `json:"principalOrFirstMaker"`
	PermitDownload        *bool           `json:"permitDownload"`
	CopyrightHolder       json.RawMessage `json:"copyrightHolder"`
	WebImage              *struct {
		GUID   string  `json:"guid"`
		URL    string  `json:"url"`
		Width  FlexInt `json:"width"`
		Height FlexInt `json:"height"`
	} `json:"webImage"`
	Links struct {
		Web string `json:"web"`
	} `json:"links"`
}

func (r *Rijks) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	params := url.Values{
		"format":  {"json"},
		"key":     {r.cfg.APIKey},
		"imgonly": {"True"},
		"culture": {"en"},
		"p":       {strconv.Itoa(req.Page - 1)},
		"ps":      {strconv.Itoa(req.PerPage)},
	}
	search := req.Search
	if search == "" {
		search = r.cfg.Search
	}
	if search != "" {
		params.Set("q", search)
	}
	for k, v := range req.Extra {
		params.Set(k, v)
	}

	var resp rijksResponse
	if err := r.fetchJSON(ctx, "collection", buildURL(r.cfg.BaseURL, params), &resp); err != nil {
		return nil, err
	}

	count := resp.Count.Int()
	page := &Page{
		CurrentPage: req.Page,
		TotalPages:  count / max(req.PerPage, 1),
		// The remainder page is still fetched.
		HasMore: req.Page*req.PerPage < count,
	}

	for _, rawObj := range resp.ArtObjects {
		var obj rijksObject
		if err := json.Unmarshal(rawObj, &obj); err != nil {
			return nil, &DecodeError{URL: r.cfg.BaseURL, Err: err}
		}
		if obj.WebImage == nil || obj.WebImage.URL == "" {
			continue
		}
		if hasValue(obj.CopyrightHolder) {
			r.log.Warn("skipping object with copyright holder",
				logger.String("object", obj.ObjectNumber),
				logger.String("copyright_holder", string(obj.CopyrightHolder)))
			continue
		}
		if obj.PermitDownload == nil || !*obj.PermitDownload {
			r.log.Warn("skipping object that does not permit download",
				logger.String("object", obj.ObjectNumber))
			continue
		}
		page.Records = append(page.Records, RawRecord(rawObj))
	}
	if len(page.Records) > req.PerPage {
		page.Records = page.Records[:req.PerPage]
	}
	return page, nil
}

// hasValue reports whether a raw JSON field is present and not null.
func hasValue(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

func (r *Rijks) Normalize(raw RawRecord) (*entities.Image, error) {
	var obj rijksObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, providerError(err, RijksName, "normalize")
	}
	if obj.WebImage == nil || obj.WebImage.URL == "" {
		return nil, nil
	}

	imageURL := obj.WebImage.URL
	img := newImage(RijksName, imageURL)
	// Rijks images are resized through the URL suffix.
	img.ThumbnailURL = imageURL
	if base, ok := strings.CutSuffix(imageURL, "=s0"); ok {
		img.ThumbnailURL = base + "=s" + strconv.Itoa(rijksThumbnailWidth)
	}
	img.ForeignIdentifier = entities.StringPtr(obj.WebImage.GUID)
	img.ForeignLandingURL = obj.Links.Web
	img.Creator = obj.PrincipalOrFirstMaker
	img.Title = obj.LongTitle
	if img.Title == "" {
		img.Title = obj.Title
	}
	img.Width = entities.IntPtr(obj.WebImage.Width.Int())
	img.Height = entities.IntPtr(obj.WebImage.Height.Int())
	img.License = licenseValue(string(license.CC0))
	img.LicenseVersion = r.licenses.Version(RijksName)
	return img, nil
}
