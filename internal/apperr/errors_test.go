package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFetchFailed_NotFoundMatches(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &FetchFailedError{StatusCode: 404, URL: "https://x/y.md"})
	if !errors.Is(err, ErrNotFound) {
		t.Error("404 should match ErrNotFound")
	}
	other := &FetchFailedError{StatusCode: 500}
	if errors.Is(other, ErrNotFound) {
		t.Error("500 should not match ErrNotFound")
	}
	if !other.Temporary() {
		t.Error("500 should be temporary")
	}
}

func TestAsRateLimited(t *testing.T) {
	err := fmt.Errorf("fetch: %w", &RateLimitedError{ResetIn: time.Minute})
	rl, ok := AsRateLimited(err)
	if !ok {
		t.Fatal("expected rate limited error")
	}
	if rl.ResetIn != time.Minute {
		t.Errorf("ResetIn = %v", rl.ResetIn)
	}
	if _, ok := AsRateLimited(errors.New("boom")); ok {
		t.Error("plain error should not be rate limited")
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.Canceled, "cancelled"},
		{&RateLimitedError{}, "rate_limited"},
		{&FetchFailedError{StatusCode: 500}, "fetch_failed"},
		{&NetworkError{Err: errors.New("reset")}, "network_error"},
		{fmt.Errorf("x: %w", ErrInvalidURL), "invalid_url"},
		{ErrInvalidData, "invalid_data"},
		{ErrInvalidKey, "cache_unavailable"},
		{ErrNotFound, "not_found"},
		{errors.New("other"), "internal"},
	}
	for _, c := range cases {
		if got := Kind(c.err); got != c.want {
			t.Errorf("Kind(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
