package provider

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/logger"
)

// RetryPolicy is a fixed backoff: MaxRetries further attempts after the
// first, Delay apart.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// policyFrom reads the retry policy from a provider's settings.
func policyFrom(c conf.ProviderCommon) RetryPolicy {
	p := RetryPolicy{MaxRetries: c.MaxRetries, Delay: c.RetryDelay}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

// IsTransient reports whether err is worth retrying: network failures,
// 5xx and 429 responses, and bodies that failed to decode.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError ||
			statusErr.StatusCode == http.StatusTooManyRequests
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}

// Retry calls fn until it succeeds, fails permanently or the policy is
// exhausted. Exhaustion returns a CategoryRetry error wrapping the last
// failure. Waits between attempts go through s and end early when ctx is
// done.
func Retry[T any](ctx context.Context, p RetryPolicy, s Sleeper, log logger.Logger, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := p.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		// A done parent context surfaces as a transport error; do not retry it.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if !IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		log.Warn("transient failure, retrying",
			logger.String("operation", operation),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", attempts),
			logger.Duration("wait", p.Delay),
			logger.Error(err))
		if err := s.Sleep(ctx, p.Delay); err != nil {
			return zero, err
		}
	}

	return zero, errors.New(lastErr).
		Component("provider").
		Category(errors.CategoryRetry).
		Context("operation", operation).
		Context("attempts", attempts).
		Build()
}
