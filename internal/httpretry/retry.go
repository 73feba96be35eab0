// Package httpretry sends HTTP requests with exponential backoff on network
// errors and on statuses that release hosts and registries use for transient
// failures.
package httpretry

import (
	"context"
	"net/http"
	"time"

	"github.com/oshokin/libpack/internal/logger"
)

const (
	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 3
	// DefaultInitialBackoff is the wait before the first retry.
	DefaultInitialBackoff = 1 * time.Second
	// DefaultMaxBackoff caps the wait between retries.
	DefaultMaxBackoff = 32 * time.Second
)

// Policy controls how many times and how long to wait between attempts.
type Policy struct {
	// Retries is the number of additional attempts after the first one.
	Retries int
	// InitialBackoff is the wait before the first retry; it doubles per retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration
	// Retryable decides which response statuses are retried; nil means IsRetryable.
	Retryable func(statusCode int) bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Retries:        DefaultRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

// WithRetries returns a copy of the policy with a different retry count.
func (p Policy) WithRetries(retries int) Policy {
	if retries >= 0 {
		p.Retries = retries
	}

	return p
}

// WithRetryable returns a copy of the policy that retries the statuses accepted by retryable.
func (p Policy) WithRetryable(retryable func(statusCode int) bool) Policy {
	p.Retryable = retryable

	return p
}

// retryable applies the policy's status predicate.
func (p Policy) retryable(statusCode int) bool {
	if p.Retryable == nil {
		return IsRetryable(statusCode)
	}

	return p.Retryable(statusCode)
}

// Backoff returns the wait before retry number attempt (zero-based).
func (p Policy) Backoff(attempt int) time.Duration {
	backoff := p.InitialBackoff
	for range attempt {
		backoff *= 2
		if backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}

	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		return p.MaxBackoff
	}

	return backoff
}

// IsRetryable reports whether an HTTP status code is worth retrying.
func IsRetryable(statusCode int) bool {
	switch statusCode {
	case http.StatusForbidden, // Rate limited by release hosts.
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryableUpload is IsRetryable without 403, which registries return for bad credentials.
func IsRetryableUpload(statusCode int) bool {
	return statusCode != http.StatusForbidden && IsRetryable(statusCode)
}

// Do sends the request produced by newRequest until it gets a non-retryable
// response or the policy is exhausted. newRequest is called once per attempt so
// request bodies can be reopened. The last retryable response is returned
// as-is, leaving status handling to the caller.
func Do(
	ctx context.Context,
	client *http.Client,
	policy Policy,
	newRequest func(ctx context.Context) (*http.Request, error),
) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= policy.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, policy.Backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		req, err := newRequest(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			lastErr = err

			logger.WarnKV(ctx, "Request failed, retrying", "url", req.URL.String(), "attempt", attempt+1, "error", err)

			continue
		}

		if !policy.retryable(resp.StatusCode) || attempt == policy.Retries {
			return resp, nil
		}

		_ = resp.Body.Close()

		logger.WarnKV(ctx, "Retryable response, retrying", "url", req.URL.String(), "attempt", attempt+1, "status", resp.Status)
	}

	return nil, lastErr
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
