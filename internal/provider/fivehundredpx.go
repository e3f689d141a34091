package provider

import (
	"context"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/license"
)

// FiveHundredPxName is the 500px provider name.
const FiveHundredPxName = "500px"

// 500px sends these as integers.
var fiveHundredPxLicenses = license.Mapping{
	Provider: FiveHundredPxName,
	Native: map[license.Code]string{
		license.BY:     "4",
		license.BYNC:   "1",
		license.BYND:   "5",
		license.BYSA:   "6",
		license.BYNCND: "2",
		license.BYNCSA: "3",
		license.PDM:    "7",
		license.CC0:    "8",
	},
	Version: "3.0",
}

const (
	fiveHundredPxThumbnailSize = 3 // 200x200
	fiveHundredPxFullSize      = 1080
)

// FiveHundredPx pages through the 500px photo search.
type FiveHundredPx struct {
	base
	cfg conf.FiveHundredPxSettings
}

// NewFiveHundredPx builds the 500px handler.
func NewFiveHundredPx(deps Deps) (Handler, error) {
	cfg := deps.Settings.FiveHundredPx
	if cfg.ConsumerKey == "" {
		return nil, errors.New(ErrMissingCredentials).
			Component("provider").
			Category(errors.CategoryConfiguration).
			Context("provider", FiveHundredPxName).
			Context("setting", "providers.500px.consumer_key").
			Build()
	}
	return &FiveHundredPx{base: newBase(FiveHundredPxName, deps, policyFrom(cfg.ProviderCommon)), cfg: cfg}, nil
}

func (p *FiveHundredPx) Pagination() Pagination {
	return Pagination{Style: PageOneIndexed, Delay: p.cfg.Delay, PerPage: p.cfg.PerPage}
}

type fiveHundredPxResponse struct {
	CurrentPage FlexInt           `json:"current_page"`
	TotalPages  FlexInt           `json:"total_pages"`
	TotalItems  FlexInt           `json:"total_items"`
	Photos      []json.RawMessage `json:"photos"`
}

type fiveHundredPxPhoto struct {
	ID          FlexString `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	LicenseType FlexString `json:"license_type"`
	Width       FlexInt    `json:"width"`
	Height      FlexInt    `json:"height"`
	Images      []struct {
		Size     FlexInt `json:"size"`
		HTTPSURL string  `json:"https_url"`
	} `json:"images"`
	User struct {
		Username string `json:"username"`
	} `json:"user"`
	Tags []string `json:"tags"`
}

func (p *FiveHundredPx) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	params := url.Values{
		"consumer_key": {p.cfg.ConsumerKey},
		"page":         {strconv.Itoa(req.Page)},
		"rpp":          {strconv.Itoa(req.PerPage)},
		"nsfw":         {"false"},
		"sort":         {"created_at"},
		"image_size":   {strconv.Itoa(fiveHundredPxThumbnailSize) + "," + strconv.Itoa(fiveHundredPxFullSize)},
	}
	if lic, ok := p.licenses.Match(FiveHundredPxName, p.cfg.Licenses); ok {
		params.Set("license_type", lic)
	}
	search := req.Search
	if search == "" {
		search = p.cfg.Search
	}
	if search != "" {
		params.Set("term", search)
	}
	for k, v := range req.Extra {
		params.Set(k, v)
	}

	var resp fiveHundredPxResponse
	if err := p.fetchJSON(ctx, "photos_search", buildURL(p.cfg.BaseURL, params), &resp); err != nil {
		return nil, err
	}

	page := &Page{
		CurrentPage: resp.CurrentPage.Int(),
		TotalPages:  resp.TotalPages.Int(),
	}
	if page.CurrentPage == 0 {
		page.CurrentPage = req.Page
	}
	if page.TotalPages == 0 {
		page.TotalPages = totalPages(resp.TotalItems.Int(), req.PerPage)
	}
	page.HasMore = page.CurrentPage < page.TotalPages
	for _, r := range resp.Photos {
		page.Records = append(page.Records, RawRecord(r))
	}
	return page, nil
}

func (p *FiveHundredPx) Normalize(raw RawRecord) (*entities.Image, error) {
	var photo fiveHundredPxPhoto
	if err := json.Unmarshal(raw, &photo); err != nil {
		return nil, providerError(err, FiveHundredPxName, "normalize")
	}

	code, ok := p.licenses.Lookup(FiveHundredPxName, string(photo.LicenseType))
	if !ok {
		return nil, nil
	}

	var full, thumb string
	for _, im := range photo.Images {
		switch im.Size.Int() {
		case fiveHundredPxFullSize:
			full = im.HTTPSURL
		case fiveHundredPxThumbnailSize:
			thumb = im.HTTPSURL
		}
	}
	// Older responses omit the size; they list the requested sizes in order.
	if full == "" && len(photo.Images) > 1 {
		thumb, full = photo.Images[0].HTTPSURL, photo.Images[1].HTTPSURL
	}
	if full == "" {
		return nil, nil
	}

	img := newImage(FiveHundredPxName, full)
	img.ThumbnailURL = thumb
	img.ForeignIdentifier = entities.StringPtr(string(photo.ID))
	img.License = licenseValue(string(code))
	img.LicenseVersion = p.licenses.Version(FiveHundredPxName)
	img.Creator = photo.User.Username
	img.Title = photo.Name
	img.Width = entities.IntPtr(photo.Width.Int())
	img.Height = entities.IntPtr(photo.Height.Int())
	if photo.URL != "" {
		img.ForeignLandingURL = "https://500px.com" + ensureLeadingSlash(photo.URL)
	}
	if photo.User.Username != "" {
		img.CreatorURL = "https://500px.com/" + photo.User.Username
	}
	img.Tags = photo.Tags
	return img, nil
}

func ensureLeadingSlash(s string) string {
	if s != "" && s[0] != '/' {
		return "/" + s
	}
	return s
}
