package provider

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/k3a/html2text"
	"github.com/patrickmn/go-cache"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/httpclient"
	"github.com/openledger/imageledger/internal/license"
	"github.com/openledger/imageledger/internal/logger"
)

// MetName is the Metropolitan Museum provider name.
const MetName = "met"

const (
	metCatalogKey       = "catalog"
	metLandingURL       = "https://www.metmuseum.org/art/collection/search/"
	metBreakerFailures  = 5
	metBreakerOpenDelay = 30 * time.Second
)

// metCreatorLabels are the tombstone labels that name a creator, in
// priority order. Labels carry a trailing colon.
var metCreatorLabels = []string{"Maker:", "Artist:", "Photographer:", "Author:", "Designer:"}

// Met walks the open access catalog. The catalog endpoint only returns
// object ids, so every page fans out to one detail request per object on a
// bounded worker pool.
type Met struct {
	base
	cfg     conf.MetSettings
	cache   *cache.Cache
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[RawRecord]
}

// NewMet builds the Met handler.
func NewMet(deps Deps) (Handler, error) {
	cfg := deps.Settings.Met
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = time.Hour
	}

	m := &Met{
		base:    newBase(MetName, deps, policyFrom(cfg.ProviderCommon)),
		cfg:     cfg,
		cache:   cache.New(cfg.CatalogTTL, cfg.CatalogTTL*2),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Workers),
	}
	m.breaker = gobreaker.NewCircuitBreaker[RawRecord](gobreaker.Settings{
		Name:        "met-detail",
		MaxRequests: 1,
		Timeout:     metBreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= metBreakerFailures
		},
		// A missing object is not an outage.
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			return err == nil || (errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return m, nil
}

func (m *Met) Pagination() Pagination {
	return Pagination{Style: PageOneIndexed, Delay: m.cfg.Delay, PerPage: m.cfg.PerPage}
}

// catalog returns the open access object ids, cached for CatalogTTL.
func (m *Met) catalog(ctx context.Context) ([]int64, error) {
	if cached, found := m.cache.Get(metCatalogKey); found {
		if ids, ok := cached.([]int64); ok {
			return ids, nil
		}
	}

	var raw json.RawMessage
	if err := m.fetchJSON(ctx, "catalog", m.cfg.BaseURL, &raw); err != nil {
		return nil, err
	}
	ids, err := decodeMetCatalog(raw)
	if err != nil {
		return nil, &DecodeError{URL: m.cfg.BaseURL, Err: err}
	}

	m.cache.Set(metCatalogKey, ids, cache.DefaultExpiration)
	m.log.Info("catalog loaded", logger.Int("objects", len(ids)))
	return ids, nil
}

// decodeMetCatalog accepts a bare id array or an object with objectIDs.
func decodeMetCatalog(raw json.RawMessage) ([]int64, error) {
	var ids []int64
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		err := json.Unmarshal(trimmed, &ids)
		return ids, err
	}
	var wrapped struct {
		ObjectIDs []int64 `json:"objectIDs"`
	}
	err := json.Unmarshal(raw, &wrapped)
	return wrapped.ObjectIDs, err
}

func (m *Met) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	ids, err := m.catalog(ctx)
	if err != nil {
		return nil, err
	}

	page := &Page{
		CurrentPage: req.Page,
		TotalPages:  totalPages(len(ids), req.PerPage),
	}
	start := (req.Page - 1) * req.PerPage
	if start >= len(ids) {
		return page, nil
	}
	end := min(start+req.PerPage, len(ids))
	page.HasMore = end < len(ids)

	records := make([]RawRecord, end-start)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for i, id := range ids[start:end] {
		g.Go(func() error {
			raw, err := m.detail(gctx, id)
			if err != nil {
				return err
			}
			records[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range records {
		if r != nil {
			page.Records = append(page.Records, r)
		}
	}
	return page, nil
}

// detail fetches one object. A missing object yields nil without error.
func (m *Met) detail(ctx context.Context, id int64) (RawRecord, error) {
	detailURL := m.cfg.DetailURL + strconv.FormatInt(id, 10)

	raw, err := Retry(ctx, m.retry, m.sleeper, m.log, "object_detail", func(ctx context.Context) (RawRecord, error) {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return m.breaker.Execute(func() (RawRecord, error) {
			var out RawRecord
			err := m.get(ctx, detailURL, func(body []byte) error {
				if !json.Valid(body) {
					return errors.NewStd("invalid JSON")
				}
				out = append(RawRecord(nil), body...)
				return nil
			}, httpclient.WithHeader("Accept", "application/json"))
			return out, err
		})
	})

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		m.log.Warn("object not found, skipping", logger.Int64("object_id", id))
		return nil, nil
	}
	return raw, err
}

type metObject struct {
	CollectionObject struct {
		CRDID FlexString `json:"CRDID"`
		Title string     `json:"Title"`
	} `json:"CollectionObject"`
	ImageInfo []struct {
		PrimaryDisplay bool   `json:"PrimaryDisplay"`
		Thumbnail      string `json:"Thumbnail"`
		LargeWebsite   string `json:"LargeWebsite"`
	} `json:"ImageInfo"`
	Tombstone []struct {
		Name  string `json:"Name"`
		Value string `json:"Value"`
	} `json:"Tombstone"`
}

func (m *Met) Normalize(raw RawRecord) (*entities.Image, error) {
	var obj metObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, providerError(err, MetName, "normalize")
	}

	var imageURL, thumbnail string
	for _, info := range obj.ImageInfo {
		if info.PrimaryDisplay && info.LargeWebsite != "" {
			imageURL = m.cfg.ImageBaseURL + info.LargeWebsite
			if info.Thumbnail != "" {
				thumbnail = m.cfg.ImageBaseURL + info.Thumbnail
			}
			break
		}
	}
	if imageURL == "" {
		m.log.Debug("object has no primary image", logger.String("crdid", string(obj.CollectionObject.CRDID)))
		return nil, nil
	}

	img := newImage(MetName, imageURL)
	img.ThumbnailURL = thumbnail
	img.Title = obj.CollectionObject.Title
	img.License = licenseValue(string(license.CC0))
	img.LicenseVersion = m.licenses.Version(MetName)
	if id := string(obj.CollectionObject.CRDID); id != "" {
		img.ForeignIdentifier = entities.StringPtr(id)
		img.ForeignLandingURL = metLandingURL + id
	}

	values := make(map[string]string, len(obj.Tombstone))
	for _, t := range obj.Tombstone {
		if _, seen := values[t.Name]; !seen {
			values[t.Name] = t.Value
		}
	}
	for _, label := range metCreatorLabels {
		if v, ok := values[label]; ok && strings.TrimSpace(v) != "" {
			img.CreatorURL, img.Creator = extractCreator(v)
			break
		}
	}
	return img, nil
}

// extractCreator reads a tombstone value that may be HTML. The first link
// gives the creator URL and name; otherwise the value is flattened to text.
func extractCreator(value string) (href, text string) {
	if !strings.Contains(value, "<") {
		return "", strings.TrimSpace(value)
	}

	doc, err := html.Parse(strings.NewReader(value))
	if err != nil {
		return "", strings.TrimSpace(html2text.HTML2Text(value))
	}

	if links := findLinks(doc); len(links) > 0 {
		href = extractHref(links[0])
		text = strings.TrimSpace(extractText(links[0]))
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			href = ""
		}
		if text != "" {
			return href, text
		}
	}
	return href, strings.TrimSpace(html2text.HTML2Text(value))
}

// findLinks traverses the HTML document and returns all anchor (<a>) tags.
func findLinks(doc *html.Node) []*html.Node {
	var linkNodes []*html.Node

	var traverse func(*html.Node)
	traverse = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "a" {
			linkNodes = append(linkNodes, node)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			traverse(child)
		}
	}
	traverse(doc)

	return linkNodes
}

// extractHref extracts the href attribute from an anchor tag.
func extractHref(link *html.Node) string {
	for _, attr := range link.Attr {
		if attr.Key == "href" {
			return attr.Val
		}
	}
	return ""
}

// extractText extracts the inner text from an anchor tag.
func extractText(link *html.Node) string {
	if link.FirstChild == nil {
		return ""
	}
	var b bytes.Buffer
	for child := link.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&b, child); err != nil {
			return ""
		}
	}
	return html2text.HTML2Text(b.String())
}
