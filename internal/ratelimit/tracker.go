// Package ratelimit tracks the request quota advertised by the metered API host.
package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Header names carrying quota state.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderReset     = "X-RateLimit-Reset"
)

const (
	// WarningThreshold is the remaining count below which Status reports Warning.
	WarningThreshold = 10
	// DefaultLimit is assumed until the first metered response is observed.
	DefaultLimit = 60
	// DefaultResetWindow is reported when the reset time is unknown.
	DefaultResetWindow = time.Hour
)

// State classifies the current quota.
type State int

const (
	StateOK State = iota
	StateWarning
	StateLimited
)

func (s State) String() string {
	switch s {
	case StateWarning:
		return "warning"
	case StateLimited:
		return "limited"
	default:
		return "ok"
	}
}

// MarshalText renders the state as its name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the quota.
type Status struct {
	State     State         `json:"state"`
	Remaining int           `json:"remaining"`
	Limit     int           `json:"limit"`
	ResetIn   time.Duration `json:"reset_in"`
}

// Limited reports whether requests to the metered host should be held back.
func (s Status) Limited() bool { return s.State == StateLimited }

// Tracker is the mutable quota state for one metered host.
// Reads and writes are guarded by a RWMutex; values are advisory.
type Tracker struct {
	meteredHost string
	now         func() time.Time
	logger      *slog.Logger
	onChange    func(Status)

	mu        sync.RWMutex
	remaining int
	limit     int
	resetAt   time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger used for transition telemetry.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithOnChange registers a hook invoked on limited/not-limited transitions
// and after every observed metered response.
func WithOnChange(fn func(Status)) Option {
	return func(t *Tracker) { t.onChange = fn }
}

// NewTracker creates a tracker for meteredHost (host[:port], as in URL.Host).
func NewTracker(meteredHost string, opts ...Option) *Tracker {
	t := &Tracker{
		meteredHost: strings.ToLower(meteredHost),
		now:         time.Now,
		logger:      slog.Default(),
		remaining:   DefaultLimit,
		limit:       DefaultLimit,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Meters reports whether requests to host consume the tracked quota.
func (t *Tracker) Meters(host string) bool {
	return t.meteredHost != "" && strings.EqualFold(host, t.meteredHost)
}

// Observe updates state from resp when it came from the metered host.
func (t *Tracker) Observe(resp *http.Response) {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return
	}
	t.ObserveHeaders(resp.Request.URL.Host, resp.Header)
}

// ObserveHeaders updates state from quota headers received from host.
// Headers from any host other than the metered one are ignored.
func (t *Tracker) ObserveHeaders(host string, h http.Header) {
	if !t.Meters(host) {
		return
	}

	remaining, hasRemaining := intHeader(h, HeaderRemaining)
	limit, hasLimit := intHeader(h, HeaderLimit)
	reset, hasReset := intHeader(h, HeaderReset)
	if !hasRemaining && !hasLimit && !hasReset {
		return
	}

	t.mu.Lock()
	wasLimited := t.statusLocked().Limited()
	if hasRemaining {
		t.remaining = remaining
	}
	if hasLimit {
		t.limit = limit
	}
	if hasReset {
		t.resetAt = time.Unix(int64(reset), 0)
	}
	st := t.statusLocked()
	t.mu.Unlock()

	t.logTransition(wasLimited, st)
	if t.onChange != nil {
		t.onChange(st)
	}
}

// Status returns the current quota classification.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.statusLocked()
}

// Reset restores the initial state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.remaining = DefaultLimit
	t.limit = DefaultLimit
	t.resetAt = time.Time{}
	t.mu.Unlock()
}

func (t *Tracker) statusLocked() Status {
	now := t.now()
	remaining := t.remaining

	// A known reset time in the past means a new window has started.
	if !t.resetAt.IsZero() && !now.Before(t.resetAt) && remaining <= 0 {
		remaining = t.limit
	}

	st := Status{Remaining: remaining, Limit: t.limit}
	switch {
	case remaining <= 0:
		st.State = StateLimited
		st.ResetIn = DefaultResetWindow
		if !t.resetAt.IsZero() {
			if d := t.resetAt.Sub(now); d > 0 {
				st.ResetIn = d
			}
		}
	case remaining < WarningThreshold:
		st.State = StateWarning
	default:
		st.State = StateOK
	}
	return st
}

func (t *Tracker) logTransition(wasLimited bool, st Status) {
	switch {
	case !wasLimited && st.Limited():
		t.logger.Warn("rate limit: quota exhausted",
			slog.String("host", t.meteredHost),
			slog.Int("limit", st.Limit),
			slog.Duration("reset_in", st.ResetIn))
	case wasLimited && !st.Limited():
		t.logger.Info("rate limit: quota restored",
			slog.String("host", t.meteredHost),
			slog.Int("remaining", st.Remaining))
	}
}

func intHeader(h http.Header, name string) (int, bool) {
	v := strings.TrimSpace(h.Get(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
