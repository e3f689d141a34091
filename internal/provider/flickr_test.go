package provider

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/identifier"
)

const flickrPage1 = `{"stat":"ok","photos":{"page":1,"pages":2,"perpage":2,"total":"3","photo":[
	{"id":"101","owner":"12@N01","ownername":"alice","title":"Cat","license":"4",
	 "url_l":"https://live.staticflickr.com/1/101_l.jpg","width_l":"1024","height_l":768,
	 "url_m":"https://live.staticflickr.com/1/101_m.jpg","tags":"cat  kitten"},
	{"id":"102","owner":"13@N01","ownername":"bob","title":"All rights","license":"0",
	 "url_l":"https://live.staticflickr.com/1/102_l.jpg"}
]}}`

const flickrPage2 = `{"stat":"ok","photos":{"page":2,"pages":2,"perpage":2,"total":"3","photo":[
	{"id":"103","owner":"14@N01","ownername":"carol","title":"Dog","license":9,
	 "url_m":"https://live.staticflickr.com/1/103_m.jpg","width_m":500,"height_m":375,"tags":""}
]}}`

// queryRecorder answers in order and remembers each request's query.
type queryRecorder struct {
	mu      sync.Mutex
	queries []url.Values
	headers []http.Header
}

func (q *queryRecorder) responder(bodies ...string) httpmock.Responder {
	i := 0
	return func(req *http.Request) (*http.Response, error) {
		q.mu.Lock()
		q.queries = append(q.queries, req.URL.Query())
		q.headers = append(q.headers, req.Header.Clone())
		body := bodies[min(i, len(bodies)-1)]
		i++
		q.mu.Unlock()
		return jsonResponder(http.StatusOK, body)(req)
	}
}

func TestFlickr_Walk(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Settings.Flickr.Licenses = []string{"ALL-$", "ALL-MOD"}
	rec := &queryRecorder{}
	env.transport.RegisterResponder("GET", "https://api.flickr.com/services/rest/", rec.responder(flickrPage1, flickrPage2))

	h := env.handler(t, FlickrName)
	images, w := collect(t, h, WalkOptions{PerPage: 2, Search: "cats", Sleeper: env.sleeper})

	require.Len(t, images, 2)
	assert.Equal(t, 2, w.Pages())
	assert.Equal(t, 3, w.Records())
	assert.Len(t, env.sleeper.Calls(), 1)

	require.Len(t, rec.queries, 2)
	q := rec.queries[0]
	assert.Equal(t, "flickr.photos.search", q.Get("method"))
	assert.Equal(t, "flickr-key", q.Get("api_key"))
	assert.Equal(t, "4,5,7,9", q.Get("license"))
	assert.Equal(t, "cats", q.Get("text"))
	assert.Equal(t, "1", q.Get("page"))
	assert.Equal(t, "2", q.Get("per_page"))
	assert.Equal(t, "2", rec.queries[1].Get("page"))

	cat := images[0]
	assert.Equal(t, "https://live.staticflickr.com/1/101_l.jpg", cat.URL)
	assert.Equal(t, identifier.Derive(cat.URL), cat.Identifier)
	assert.Equal(t, "https://live.staticflickr.com/1/101_m.jpg", cat.ThumbnailURL)
	assert.Equal(t, FlickrName, cat.Provider)
	assert.Equal(t, FlickrName, cat.Source)
	assert.Equal(t, "by", cat.License)
	assert.Equal(t, "2.0", cat.LicenseVersion)
	assert.Equal(t, "alice", cat.Creator)
	assert.Equal(t, "https://www.flickr.com/photos/12@N01", cat.CreatorURL)
	assert.Equal(t, "https://www.flickr.com/photos/12@N01/101", cat.ForeignLandingURL)
	assert.Equal(t, "101", cat.ForeignID())
	require.NotNil(t, cat.Width)
	assert.Equal(t, 1024, *cat.Width)
	assert.Equal(t, 768, *cat.Height)
	assert.Equal(t, []string{"cat", "kitten"}, cat.Tags)

	dog := images[1]
	assert.Equal(t, "https://live.staticflickr.com/1/103_m.jpg", dog.URL)
	assert.Equal(t, "cc0", dog.License)
	assert.Equal(t, 500, *dog.Width)
	assert.Empty(t, dog.Tags)
}

func TestFlickr_APIError(t *testing.T) {
	env := newTestEnv(t)
	env.transport.RegisterResponder("GET", "https://api.flickr.com/services/rest/",
		jsonResponder(http.StatusOK, `{"stat":"fail","code":100,"message":"Invalid API Key"}`))

	h := env.handler(t, FlickrName)
	_, err := h.FetchPage(context.Background(), PageRequest{Page: 1, PerPage: 10})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API Key")
	assert.True(t, errors.IsCategory(err, errors.CategoryProvider))
}

func TestFlickr_ServerErrorIsRetried(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	env.transport.RegisterResponder("GET", "https://api.flickr.com/services/rest/", func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusBadGateway, "<html>bad gateway</html>"), nil
		}
		return jsonResponder(http.StatusOK, flickrPage2)(req)
	})

	h := env.handler(t, FlickrName)
	page, err := h.FetchPage(context.Background(), PageRequest{Page: 2, PerPage: 2})

	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, 2, calls)
	assert.Len(t, env.sleeper.Calls(), 1)
}

func TestFlickr_TruncatedBodyIsRetried(t *testing.T) {
	env := newTestEnv(t)
	env.transport.RegisterResponder("GET", "https://api.flickr.com/services/rest/",
		jsonResponder(http.StatusOK, `{"stat":"ok","photos":{"page":1,`))

	h := env.handler(t, FlickrName)
	_, err := h.FetchPage(context.Background(), PageRequest{Page: 1, PerPage: 2})

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 2, env.transport.GetTotalCallCount())
}

func TestFlickr_RequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Settings.Flickr.APIKey = ""

	_, err := NewDefaultRegistry().New(FlickrName, env.deps)
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestFlickr_NormalizeRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)
	h := env.handler(t, FlickrName)

	_, err := h.Normalize(RawRecord(`not json`))
	assert.Error(t, err)

	img, err := h.Normalize(RawRecord(`{"id":"1","license":"4"}`))
	require.NoError(t, err)
	assert.Nil(t, img)
}
