// Package fetcher resolves logical content paths from the local cache or the
// remote content host, honoring the API quota and retrying transient failures.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/starford/helmsman/internal/apperr"
	"github.com/starford/helmsman/internal/cache"
	"github.com/starford/helmsman/internal/metrics"
	"github.com/starford/helmsman/internal/ratelimit"
	"github.com/starford/helmsman/internal/retry"
)

// Source tells callers where a Result came from.
type Source string

const (
	SourceFresh Source = "fresh" // fetched from the network just now
	SourceCache Source = "cache" // cache hit, no network call
	SourceStale Source = "stale" // cached copy served because the network path failed
)

// Config describes the remote repository and transport limits.
type Config struct {
	RawBaseURL       string
	APIBaseURL       string
	Owner            string
	Repo             string
	Branch           string
	Token            string
	UserAgent        string
	Timeout          time.Duration
	BatchDelay       time.Duration
	MaxBatchFailures int
	MaxBodyBytes     int64
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

// DefaultConfig returns GitHub hosts and conservative transport limits.
func DefaultConfig() Config {
	return Config{
		RawBaseURL:       "https://raw.githubusercontent.com",
		APIBaseURL:       "https://api.github.com",
		Branch:           "main",
		UserAgent:        "helmsman",
		Timeout:          30 * time.Second,
		BatchDelay:       100 * time.Millisecond,
		MaxBatchFailures: 20,
		MaxBodyBytes:     10 << 20,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// Result is fetched content plus its provenance.
type Result struct {
	Path      string    `json:"path"`
	Content   []byte    `json:"-"`
	Source    Source    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	// Warning is set on stale fallbacks and carries the failure that forced them.
	Warning error `json:"-"`
}

// Degraded reports whether the result is a stale fallback.
func (r *Result) Degraded() bool { return r.Source == SourceStale }

// Text returns the content as UTF-8 text.
func (r *Result) Text() (string, error) {
	if !utf8.Valid(r.Content) {
		return "", fmt.Errorf("%s: %w: body is not valid UTF-8", r.Path, apperr.ErrInvalidData)
	}
	return string(r.Content), nil
}

// Fetcher is the content acquisition pipeline. It is safe for concurrent use.
type Fetcher struct {
	cfg     Config
	rawBase *url.URL
	apiBase *url.URL

	client     *http.Client
	cache      *cache.Cache
	tracker    *ratelimit.Tracker
	retry      *retry.Strategy
	rawBreaker *gobreaker.CircuitBreaker
	apiBreaker *gobreaker.CircuitBreaker
	group      singleflight.Group
	metrics    *metrics.Collector
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client. Its Timeout is left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithSleeper replaces the wait used for the inter-file batch delay.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New wires a Fetcher. The cache, tracker and retry strategy are shared
// handles constructed once per process.
func New(cfg Config, c *cache.Cache, tr *ratelimit.Tracker, rs *retry.Strategy, opts ...Option) (*Fetcher, error) {
	if c == nil || tr == nil || rs == nil {
		return nil, errors.New("fetcher: cache, tracker and retry strategy are required")
	}
	if cfg.Owner == "" || cfg.Repo == "" || cfg.Branch == "" {
		return nil, fmt.Errorf("fetcher: owner, repo and branch are required: %w", apperr.ErrInvalidURL)
	}
	rawBase, err := parseBase(cfg.RawBaseURL)
	if err != nil {
		return nil, fmt.Errorf("fetcher: raw base url: %w", err)
	}
	apiBase, err := parseBase(cfg.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("fetcher: api base url: %w", err)
	}
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxBatchFailures <= 0 {
		cfg.MaxBatchFailures = defaults.MaxBatchFailures
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = defaults.BreakerThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaults.BreakerTimeout
	}

	f := &Fetcher{
		cfg:     cfg,
		rawBase: rawBase,
		apiBase: apiBase,
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   c,
		tracker: tr,
		retry:   rs,
		logger:  slog.Default(),
		sleep:   retry.Sleep,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.rawBreaker = newBreaker("raw:"+rawBase.Host, cfg, f.logger)
	f.apiBreaker = newBreaker("api:"+apiBase.Host, cfg, f.logger)
	return f, nil
}

// Config returns the effective configuration.
func (f *Fetcher) Config() Config { return f.cfg }

// Tracker returns the quota tracker the fetcher reports to.
func (f *Fetcher) Tracker() *ratelimit.Tracker { return f.tracker }

type fetchOptions struct {
	useCache     bool
	forceRefresh bool
}

// FetchOption adjusts a single Fetch call.
type FetchOption func(*fetchOptions)

// WithoutCache skips the cache lookup (the result is still written back).
func WithoutCache() FetchOption {
	return func(o *fetchOptions) { o.useCache = false }
}

// ForceRefresh bypasses a cache hit and goes to the network.
func ForceRefresh() FetchOption {
	return func(o *fetchOptions) { o.forceRefresh = true }
}

// Fetch resolves path from the cache or the network.
//
// A stale fallback is not an error: the Result has Source == SourceStale and
// Warning set to the failure (typically *apperr.RateLimitedError).
func (f *Fetcher) Fetch(ctx context.Context, path string, opts ...FetchOption) (*Result, error) {
	o := fetchOptions{useCache: true}
	for _, opt := range opts {
		opt(&o)
	}

	key := normalizeKey(path)
	if key == "" {
		return nil, fmt.Errorf("fetch: %w: empty path", apperr.ErrInvalidURL)
	}

	if o.useCache && !o.forceRefresh {
		if data, err := f.cache.Load(key); err == nil {
			last, _ := f.cache.LastFetched(key)
			f.metrics.ObserveFetch(string(SourceCache), 0)
			return &Result{Path: key, Content: data, Source: SourceCache, FetchedAt: last}, nil
		} else if !errors.Is(err, apperr.ErrNotFound) {
			f.logger.Warn("fetch: cache read failed", slog.String("path", key), slog.String("error", err.Error()))
		}
	}

	target, err := f.ContentURL(key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	// The shared fetch outlives any single caller: one caller cancelling must
	// not fail the others waiting on the same path.
	ch := f.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.sharedBudget())
		defer cancel()
		return f.fetchRemote(shared, key, target)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Result), nil
	}
}

// sharedBudget bounds a coalesced fetch: every attempt may use the full
// request timeout plus the longest backoff wait.
func (f *Fetcher) sharedBudget() time.Duration {
	p := f.retry.Policy()
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts) * (f.cfg.Timeout + p.MaxDelay + p.MaxDelay/5)
}

func (f *Fetcher) fetchRemote(ctx context.Context, key, target string) (*Result, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %v", key, apperr.ErrInvalidURL, err)
	}

	// Only requests that consume quota are gated on it.
	if f.tracker.Meters(u.Host) {
		if st := f.tracker.Status(); st.Limited() {
			return f.fallback(key, &apperr.RateLimitedError{ResetIn: st.ResetIn})
		}
	}

	start := f.now()
	data, err := retry.Execute(ctx, f.retry, func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, target, false)
	}, shouldRetry)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if !errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, ctxErr
			}
			err = &apperr.NetworkError{Err: fmt.Errorf("fetch budget exceeded: %v", ctxErr)}
		}
		if canFallback(err) {
			return f.fallback(key, err)
		}
		f.metrics.ObserveError(apperr.Kind(err))
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	if err := f.cache.Save(key, data); err != nil {
		f.logger.Warn("fetch: cache write failed", slog.String("path", key), slog.String("error", err.Error()))
	}
	f.metrics.ObserveFetch(string(SourceFresh), f.now().Sub(start))
	f.logger.Debug("fetch: fetched", slog.String("path", key), slog.Int("bytes", len(data)))
	return &Result{Path: key, Content: data, Source: SourceFresh, FetchedAt: f.now()}, nil
}

// fallback serves a cached copy of key, regardless of age, in place of cause.
func (f *Fetcher) fallback(key string, cause error) (*Result, error) {
	data, err := f.cache.Load(key)
	if err != nil {
		f.metrics.ObserveError(apperr.Kind(cause))
		return nil, fmt.Errorf("fetch %s: %w", key, cause)
	}
	last, _ := f.cache.LastFetched(key)
	f.metrics.ObserveFetch(string(SourceStale), 0)
	f.logger.Warn("fetch: serving stale cache",
		slog.String("path", key),
		slog.Time("last_fetched", last),
		slog.String("reason", cause.Error()))
	return &Result{Path: key, Content: data, Source: SourceStale, FetchedAt: last, Warning: cause}, nil
}

// get performs one GET through the host's circuit breaker.
func (f *Fetcher) get(ctx context.Context, target string, api bool) ([]byte, error) {
	cb := f.rawBreaker
	if api {
		cb = f.apiBreaker
	}
	v, err := cb.Execute(func() (interface{}, error) {
		return f.roundTrip(ctx, target, api)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &apperr.NetworkError{Err: err}
		}
		return nil, err
	}
	return v.([]byte), nil
}

func (f *Fetcher) roundTrip(ctx context.Context, target string, api bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if api {
		req.Header.Set("Accept", "application/vnd.github+json")
		if f.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+f.cfg.Token)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apperr.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	f.tracker.Observe(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))
		return nil, f.classify(resp, target)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apperr.NetworkError{Err: err}
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", apperr.ErrInvalidData, f.cfg.MaxBodyBytes)
	}
	return body, nil
}

// classify maps a non-2xx response onto the error taxonomy. A 403 that
// coincides with exhausted quota is a rate limit, not a plain failure.
func (f *Fetcher) classify(resp *http.Response, target string) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &apperr.RateLimitedError{ResetIn: f.resetIn(resp)}
	case resp.StatusCode == http.StatusForbidden && f.quotaExhausted(resp):
		return &apperr.RateLimitedError{ResetIn: f.resetIn(resp)}
	default:
		return &apperr.FetchFailedError{StatusCode: resp.StatusCode, URL: target}
	}
}

func (f *Fetcher) quotaExhausted(resp *http.Response) bool {
	if resp.Header.Get(ratelimit.HeaderRemaining) == "0" {
		return true
	}
	return f.tracker.Meters(resp.Request.URL.Host) && f.tracker.Status().Limited()
}

func (f *Fetcher) resetIn(resp *http.Response) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if st := f.tracker.Status(); st.Limited() {
		return st.ResetIn
	}
	return ratelimit.DefaultResetWindow
}

// shouldRetry retries network failures and 5xx responses only.
func shouldRetry(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if _, ok := apperr.AsRateLimited(err); ok {
		return false
	}
	var netErr *apperr.NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var ff *apperr.FetchFailedError
	if errors.As(err, &ff) {
		return ff.Temporary()
	}
	return false
}

// canFallback reports whether a cached copy may stand in for err.
// Client errors (404 and friends) and decode errors are surfaced as-is.
func canFallback(err error) bool {
	if _, ok := apperr.AsRateLimited(err); ok {
		return true
	}
	var netErr *apperr.NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var ff *apperr.FetchFailedError
	if errors.As(err, &ff) {
		return ff.Temporary()
	}
	return false
}
