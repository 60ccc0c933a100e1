// Package apperr defines the error taxonomy shared by the content pipeline.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidURL       = errors.New("invalid url")
	ErrInvalidData      = errors.New("invalid data")
	ErrInvalidKey       = errors.New("invalid cache key")
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// FetchFailedError is a non-2xx response from a remote host.
// StatusCode is zero when no response status is known.
type FetchFailedError struct {
	StatusCode int
	URL        string
}

func (e *FetchFailedError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("fetch failed: %s", e.URL)
	}
	return fmt.Sprintf("fetch failed: status=%d url=%s", e.StatusCode, e.URL)
}

// Is lets a 404 match ErrNotFound.
func (e *FetchFailedError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Temporary reports whether the failure is a server-side (5xx) condition.
func (e *FetchFailedError) Temporary() bool {
	return e.StatusCode >= 500
}

// NetworkError wraps transport-level failures (DNS, connection reset, timeouts).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	if e == nil || e.Err == nil {
		return "network error"
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitedError indicates the request quota is exhausted.
type RateLimitedError struct {
	ResetIn time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.ResetIn > 0 {
		return fmt.Sprintf("rate limited: quota resets in %s", e.ResetIn.Round(time.Second))
	}
	return "rate limited"
}

// AsRateLimited returns the RateLimitedError in err's chain, if any.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// Kind returns a short stable label for err, used for metrics and HTTP mapping.
func Kind(err error) string {
	var (
		rl  *RateLimitedError
		ff  *FetchFailedError
		net *NetworkError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &ff):
		return "fetch_failed"
	case errors.As(err, &net):
		return "network_error"
	case errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, ErrInvalidData):
		return "invalid_data"
	case errors.Is(err, ErrCacheUnavailable), errors.Is(err, ErrInvalidKey):
		return "cache_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
