package provider

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/httpclient"
	"github.com/openledger/imageledger/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go-cache janitors stop when their cache is collected.
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

// testSettings returns default provider settings with credentials filled in
// and retries made quick.
func testSettings() conf.ProvidersSettings {
	s := conf.Defaults().Providers
	s.Flickr.APIKey = "flickr-key"
	s.FiveHundredPx.ConsumerKey = "500px-key"
	s.Rijks.APIKey = "rijks-key"
	s.NYPL.Token = "nypl-token"
	s.Europeana.APIKey = "europeana-key"
	for _, c := range []*conf.ProviderCommon{
		&s.Flickr.ProviderCommon, &s.FiveHundredPx.ProviderCommon, &s.Rijks.ProviderCommon,
		&s.Met.ProviderCommon, &s.NYPL.ProviderCommon, &s.Europeana.ProviderCommon,
		&s.Wikimedia.ProviderCommon,
	} {
		c.MaxRetries = 1
	}
	return s
}

type testEnv struct {
	deps      Deps
	transport *httpmock.MockTransport
	sleeper   *RecordingSleeper
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	transport := httpmock.NewMockTransport()
	sleeper := &RecordingSleeper{}
	client := httpclient.New(&httpclient.Config{Transport: transport})
	t.Cleanup(client.Close)
	return &testEnv{
		deps: Deps{
			Settings: testSettings(),
			Client:   client,
			Logger:   logger.NewSlogLogger(nil, logger.LogLevelError, nil),
			Sleeper:  sleeper,
		},
		transport: transport,
		sleeper:   sleeper,
	}
}

// handler builds the named provider from the environment's deps.
func (e *testEnv) handler(t *testing.T, name string) Handler {
	t.Helper()
	h, err := NewDefaultRegistry().New(name, e.deps)
	require.NoError(t, err)
	return h
}

func jsonResponder(status int, body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(status, body)
		resp.Header.Set("Content-Type", "application/json")
		resp.Request = req
		return resp, nil
	}
}

// collect walks h to the end.
func collect(t *testing.T, h Handler, opts WalkOptions) ([]*entities.Image, *Walker) {
	t.Helper()
	w := Walk(h, opts)
	var images []*entities.Image
	for {
		raw, err := w.Next(context.Background())
		if errors.Is(err, ErrWalkDone) {
			break
		}
		require.NoError(t, err)
		img, err := h.Normalize(raw)
		require.NoError(t, err)
		if img != nil {
			images = append(images, img)
		}
	}
	return images, w
}

type staticTags []string

func (s staticTags) ListNames(context.Context) ([]string, error) {
	return s, nil
}
