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
)

// FlickrName is the flickr provider name.
const FlickrName = "flickr"

var flickrLicenses = license.Mapping{
	Provider: FlickrName,
	Native: map[license.Code]string{
		license.BY:     "4",
		license.BYNC:   "2",
		license.BYND:   "6",
		license.BYSA:   "5",
		license.BYNCND: "3",
		license.BYNCSA: "1",
		license.PDM:    "7",
		license.CC0:    "9",
	},
	Version: "2.0",
}

const flickrExtras = "url_l,url_m,owner_name,license,tags"

// Flickr pages through flickr.photos.search.
type Flickr struct {
	base
	cfg conf.FlickrSettings
}

// NewFlickr builds the flickr handler.
func NewFlickr(deps Deps) (Handler, error) {
	cfg := deps.Settings.Flickr
	if cfg.APIKey == "" {
		return nil, errors.New(ErrMissingCredentials).
			Component("provider").
			Category(errors.CategoryConfiguration).
			Context("provider", FlickrName).
			Context("setting", "providers.flickr.api_key").
			Build()
	}
	return &Flickr{base: newBase(FlickrName, deps, policyFrom(cfg.ProviderCommon)), cfg: cfg}, nil
}

func (f *Flickr) Pagination() Pagination {
	return Pagination{Style: PageOneIndexed, Delay: f.cfg.Delay, PerPage: f.cfg.PerPage}
}

type flickrResponse struct {
	Stat    string `json:"stat"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Photos  struct {
		Page    FlexInt           `json:"page"`
		Pages   FlexInt           `json:"pages"`
		PerPage FlexInt           `json:"perpage"`
		Total   FlexInt           `json:"total"`
		Photo   []json.RawMessage `json:"photo"`
	} `json:"photos"`
}

type flickrPhoto struct {
	ID        string     `json:"id"`
	Owner     string     `json:"owner"`
	OwnerName string     `json:"ownername"`
	Title     string     `json:"title"`
	License   FlexString `json:"license"`
	URLL      string     `json:"url_l"`
	WidthL    FlexInt    `json:"width_l"`
	HeightL   FlexInt    `json:"height_l"`
	URLM      string     `json:"url_m"`
	WidthM    FlexInt    `json:"width_m"`
	HeightM   FlexInt    `json:"height_m"`
	Tags      string     `json:"tags"`
}

func (f *Flickr) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	params := url.Values{
		"method":         {"flickr.photos.search"},
		"api_key":        {f.cfg.APIKey},
		"format":         {"json"},
		"nojsoncallback": {"1"},
		"safe_search":    {"1"},
		"content_type":   {"1"},
		"extras":         {flickrExtras},
		"sort":           {"date-posted-desc"},
		"page":           {strconv.Itoa(req.Page)},
		"per_page":       {strconv.Itoa(req.PerPage)},
	}
	if lic, ok := f.licenses.Match(FlickrName, f.cfg.Licenses); ok {
		params.Set("license", lic)
	}
	search := req.Search
	if search == "" {
		search = f.cfg.Search
	}
	if search != "" {
		params.Set("text", search)
	}
	for k, v := range req.Extra {
		params.Set(k, v)
	}

	var resp flickrResponse
	if err := f.fetchJSON(ctx, "photos_search", buildURL(f.cfg.BaseURL, params), &resp); err != nil {
		return nil, err
	}
	if resp.Stat != "ok" {
		return nil, errors.Newf("flickr error %d: %s", resp.Code, resp.Message).
			Component("provider").
			Category(errors.CategoryProvider).
			Context("provider", FlickrName).
			Context("operation", "photos_search").
			Build()
	}

	page := &Page{
		CurrentPage: resp.Photos.Page.Int(),
		TotalPages:  resp.Photos.Pages.Int(),
	}
	if page.CurrentPage == 0 {
		page.CurrentPage = req.Page
	}
	if page.TotalPages == 0 {
		page.TotalPages = totalPages(resp.Photos.Total.Int(), req.PerPage)
	}
	page.HasMore = page.CurrentPage < page.TotalPages
	for _, p := range resp.Photos.Photo {
		page.Records = append(page.Records, RawRecord(p))
	}
	return page, nil
}

func (f *Flickr) Normalize(raw RawRecord) (*entities.Image, error) {
	var p flickrPhoto
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, providerError(err, FlickrName, "normalize")
	}

	code, ok := f.licenses.Lookup(FlickrName, string(p.License))
	if !ok {
		f.log.Debug("skipping photo with unmapped license")
		return nil, nil
	}

	imageURL, width, height := p.URLL, p.WidthL.Int(), p.HeightL.Int()
	if imageURL == "" {
		imageURL, width, height = p.URLM, p.WidthM.Int(), p.HeightM.Int()
	}
	if imageURL == "" {
		return nil, nil
	}

	img := newImage(FlickrName, imageURL)
	img.ThumbnailURL = p.URLM
	img.ForeignIdentifier = entities.StringPtr(p.ID)
	img.License = licenseValue(string(code))
	img.LicenseVersion = f.licenses.Version(FlickrName)
	img.Creator = p.OwnerName
	img.Title = p.Title
	img.Width = entities.IntPtr(width)
	img.Height = entities.IntPtr(height)
	if p.Owner != "" {
		img.CreatorURL = "https://www.flickr.com/photos/" + p.Owner
		if p.ID != "" {
			img.ForeignLandingURL = img.CreatorURL + "/" + p.ID
		}
	}
	img.Tags = strings.Fields(p.Tags)
	return img, nil
}
