package provider

import (
	"fmt"

	"github.com/openledger/imageledger/internal/errors"
)

var (
	// ErrWalkDone is returned by Walker.Next after the last record.
	ErrWalkDone = errors.NewStd("walk done")
	// ErrUnknownProvider is returned for a name with no registered handler.
	ErrUnknownProvider = errors.NewStd("unknown provider")
	// ErrMissingCredentials is returned when a handler needs an API key
	// that is not configured.
	ErrMissingCredentials = errors.NewStd("missing provider credentials")
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// DecodeError is a body that could not be decoded, usually because it was
// truncated or an HTML error page.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// providerError wraps err with the provider's component and context.
func providerError(err error, provider, operation string) error {
	return errors.New(err).
		Component("provider").
		Category(errors.CategoryProvider).
		Context("provider", provider).
		Context("operation", operation).
		Build()
}
