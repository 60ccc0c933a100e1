// Package retry provides a bounded retry executor with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// MinDelay is the floor applied to every computed delay.
const MinDelay = 100 * time.Millisecond

// jitterRatio bounds the uniform perturbation applied when jitter is enabled.
const jitterRatio = 0.2

// ErrExhausted matches every ExhaustedError.
var ErrExhausted = errors.New("retries exhausted")

// Policy is an immutable retry configuration.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultPolicy returns the policy used for remote content fetches.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns min(BaseDelay * 2^(attempt-1), MaxDelay) without jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Delay returns the wait before the attempt following attempt, including jitter.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Backoff(attempt))
	if p.Jitter {
		d += d * jitterRatio * (rand.Float64()*2 - 1)
	}
	if d < float64(MinDelay) {
		return MinDelay
	}
	return time.Duration(d)
}

// ExhaustedError is returned once every attempt has failed with a retriable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Observer is notified before each backoff wait.
type Observer func(attempt int, delay time.Duration, err error)

// Strategy executes operations under a Policy.
type Strategy struct {
	policy   Policy
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
	observer Observer
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithSleeper replaces the context-aware wait (tests use it to skip real delays).
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Strategy) { s.sleep = fn }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Strategy) { s.logger = l }
}

// WithObserver registers a hook called before each retry wait.
func WithObserver(o Observer) Option {
	return func(s *Strategy) { s.observer = o }
}

// New creates a Strategy for p.
func New(p Policy, opts ...Option) *Strategy {
	s := &Strategy{
		policy: p,
		sleep:  Sleep,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the strategy's policy.
func (s *Strategy) Policy() Policy { return s.policy }

// Execute runs op until it succeeds, shouldRetry rejects its error, or the
// policy's attempts are used up. A nil shouldRetry retries every error.
func Execute[T any](ctx context.Context, s *Strategy, op func(context.Context) (T, error), shouldRetry func(error) bool) (T, error) {
	var zero T
	maxAttempts := s.policy.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := s.policy.Delay(attempt)
		s.logger.Debug("retry: attempt failed",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if s.observer != nil {
			s.observer(attempt, delay, err)
		}
		if err := s.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: maxAttempts, Last: lastErr}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
