package provider

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/httpclient"
	"github.com/openledger/imageledger/internal/license"
	"github.com/openledger/imageledger/internal/logger"
)

// maxBodyBytes caps a single provider response.
const maxBodyBytes = 32 << 20

// base carries what every HTTP backed handler shares.
type base struct {
	name     string
	client   *httpclient.Client
	log      logger.Logger
	sleeper  Sleeper
	retry    RetryPolicy
	licenses *license.Table
}

func newBase(name string, deps Deps, retry RetryPolicy) base {
	return base{
		name:     name,
		client:   deps.Client,
		log:      deps.Logger.Module("provider." + name),
		sleeper:  deps.Sleeper,
		retry:    retry,
		licenses: deps.Licenses,
	}
}

// Name returns the provider name.
func (b *base) Name() string {
	return b.name
}

// get performs one GET and hands the body to decode. Non-2xx responses
// become *StatusError; decode failures become *DecodeError.
func (b *base) get(ctx context.Context, rawURL string, decode func([]byte) error, opts ...httpclient.RequestOption) error {
	resp, err := b.client.Get(ctx, rawURL, opts...)
	if err != nil {
		return errors.New(err).
			Component("provider").
			Category(errors.CategoryNetwork).
			Context("provider", b.name).
			Context("url", logger.RedactURL(rawURL)).
			Build()
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			b.log.Debug("failed to close response body", logger.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return errors.New(&StatusError{StatusCode: resp.StatusCode, URL: logger.RedactURL(rawURL)}).
			Component("provider").
			Category(errors.CategoryHTTP).
			Context("provider", b.name).
			Context("status_code", resp.StatusCode).
			Build()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &DecodeError{URL: logger.RedactURL(rawURL), Err: err}
	}
	if err := decode(body); err != nil {
		return &DecodeError{URL: logger.RedactURL(rawURL), Err: err}
	}
	return nil
}

// fetchJSON GETs rawURL into v, retrying transient failures.
func (b *base) fetchJSON(ctx context.Context, operation, rawURL string, v any, opts ...httpclient.RequestOption) error {
	_, err := Retry(ctx, b.retry, b.sleeper, b.log, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.get(ctx, rawURL, func(body []byte) error {
			return json.Unmarshal(body, v)
		}, opts...)
	})
	return err
}

// buildURL appends params to base, keeping any query base already has.
func buildURL(base string, params url.Values) string {
	if len(params) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}
