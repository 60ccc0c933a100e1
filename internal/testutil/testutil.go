// Package testutil provides shared test helpers: a temporary index, a
// temporary cache and a fake content remote serving both the raw and API hosts.
package testutil

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/helmsman/internal/cache"
	"github.com/starford/helmsman/internal/fetcher"
	"github.com/starford/helmsman/internal/index"
	"github.com/starford/helmsman/internal/ratelimit"
	"github.com/starford/helmsman/internal/retry"
)

// Owner, Repo and Branch are the coordinates the fake remote serves.
const (
	Owner  = "o"
	Repo   = "r"
	Branch = "main"
)

// QuietLogger discards everything.
func QuietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// NoSleep is a sleeper that returns immediately unless ctx is done.
func NoSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "helmsman-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCache creates a content cache in a temporary directory.
func TestCache(t *testing.T, opts ...cache.Option) *cache.Cache {
	t.Helper()
	c, err := cache.New(t.TempDir(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// Remote is a fake content host. Raw files are served under /raw and
// directory listings under /api, the way the real hosts lay them out.
type Remote struct {
	Server *httptest.Server

	mu        sync.Mutex
	files     map[string]string
	remaining int // -1 means no quota headers
	hits      map[string]int
}

// NewRemote starts a fake remote holding files keyed by logical path.
func NewRemote(t *testing.T, files map[string]string) *Remote {
	t.Helper()
	r := &Remote{files: make(map[string]string), remaining: -1, hits: make(map[string]int)}
	for k, v := range files {
		r.files[k] = v
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Server.Close)
	return r
}

// SetQuota makes API responses carry X-RateLimit headers starting at n.
// Each API request consumes one unit.
func (r *Remote) SetQuota(n int) {
	r.mu.Lock()
	r.remaining = n
	r.mu.Unlock()
}

// Put adds or replaces a file.
func (r *Remote) Put(p, content string) {
	r.mu.Lock()
	r.files[p] = content
	r.mu.Unlock()
}

// Hits returns how often a logical path (raw) or folder (API) was requested.
func (r *Remote) Hits(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[p]
}

// APIHost is the host the tracker should meter.
func (r *Remote) APIHost() string {
	u, _ := url.Parse(r.Server.URL)
	return u.Host
}

func (r *Remote) serve(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rawPrefix := "/raw/" + Owner + "/" + Repo + "/" + Branch + "/"
	apiPrefix := "/api/repos/" + Owner + "/" + Repo + "/contents/"
	p := req.URL.Path

	switch {
	case strings.HasPrefix(p, rawPrefix):
		key := strings.TrimPrefix(p, rawPrefix)
		r.hits[key]++
		body, ok := r.files[key]
		if !ok {
			http.NotFound(w, req)
			return
		}
		_, _ = io.WriteString(w, body)

	case strings.HasPrefix(p, apiPrefix):
		folder := strings.Trim(strings.TrimPrefix(p, apiPrefix), "/")
		r.hits[folder]++
		if r.remaining >= 0 {
			w.Header().Set(ratelimit.HeaderLimit, "60")
			w.Header().Set(ratelimit.HeaderReset, strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
			if r.remaining == 0 {
				w.Header().Set(ratelimit.HeaderRemaining, "0")
				w.WriteHeader(http.StatusForbidden)
				return
			}
			r.remaining--
			w.Header().Set(ratelimit.HeaderRemaining, strconv.Itoa(r.remaining))
		}
		var entries []fetcher.DirEntry
		for k := range r.files {
			if path.Dir(k) == folder {
				entries = append(entries, fetcher.DirEntry{Name: path.Base(k), Path: k, Type: "file", SHA: index.Checksum([]byte(r.files[k]))})
			}
		}
		if len(entries) == 0 {
			http.NotFound(w, req)
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)

	default:
		http.NotFound(w, req)
	}
}

// Fetcher builds a fetcher against r with instant retries and no batch delay.
func (r *Remote) Fetcher(t *testing.T, c *cache.Cache, opts ...fetcher.Option) *fetcher.Fetcher {
	t.Helper()
	tr := ratelimit.NewTracker(r.APIHost(), ratelimit.WithLogger(QuietLogger()))
	rs := retry.New(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		retry.WithSleeper(NoSleep), retry.WithLogger(QuietLogger()))

	cfg := fetcher.DefaultConfig()
	cfg.RawBaseURL = r.Server.URL + "/raw"
	cfg.APIBaseURL = r.Server.URL + "/api"
	cfg.Owner = Owner
	cfg.Repo = Repo
	cfg.Branch = Branch
	cfg.BatchDelay = 0

	opts = append([]fetcher.Option{fetcher.WithLogger(QuietLogger()), fetcher.WithSleeper(NoSleep)}, opts...)
	f, err := fetcher.New(cfg, c, tr, rs, opts...)
	if err != nil {
		t.Fatalf("fetcher.New: %v", err)
	}
	return f
}
