package fetcher

import (
	"errors"
	"log/slog"

	"github.com/sony/gobreaker"

	"github.com/starford/helmsman/internal/apperr"
)

// newBreaker trips after cfg.BreakerThreshold consecutive transport or 5xx
// failures. Client errors and rate limits count as successes: the host is up.
func newBreaker(name string, cfg Config, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("fetch: circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if _, ok := apperr.AsRateLimited(err); ok {
				return true
			}
			var ff *apperr.FetchFailedError
			if errors.As(err, &ff) {
				return !ff.Temporary()
			}
			return errors.Is(err, apperr.ErrInvalidData)
		},
	})
}
