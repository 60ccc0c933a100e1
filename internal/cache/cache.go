// Package cache stores fetched content as byte blobs on disk with staleness metadata.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/helmsman/internal/apperr"
)

// DefaultMaxAge is the staleness window applied when callers pass none.
const DefaultMaxAge = 7 * 24 * time.Hour

// MetaSuffix is appended to an entry's data file name to form its sidecar name.
const MetaSuffix = ".meta.json"

const tmpPrefix = ".helmsman-tmp-"

// Entry describes one cached item.
type Entry struct {
	Key         string    `json:"key"`
	LastFetched time.Time `json:"last_fetched"`
	Size        int64     `json:"size"`
}

type sidecar struct {
	LastFetched time.Time `json:"lastFetched"`
	Key         string    `json:"key,omitempty"`
}

// Cache is a key-addressed blob store. Each entry is a data file plus a JSON
// sidecar; an entry exists only while both are present.
type Cache struct {
	root   string // absolute path to cache directory
	now    func() time.Time
	logger *slog.Logger

	locks  sync.Map // sanitized name -> *sync.Mutex
	rename func(oldpath, newpath string) error
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now for lastFetched stamps and staleness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a cache rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cache: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root: %w: %w", apperr.ErrCacheUnavailable, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("cache: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cache: root is not a directory: %s", abs)
	}
	c := &Cache{
		root:   abs,
		now:    time.Now,
		logger: slog.Default(),
		rename: os.Rename,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dir returns the absolute cache directory.
func (c *Cache) Dir() string { return c.root }

// Sanitize maps a logical key to a flat file name.
func Sanitize(key string) (string, error) {
	name := strings.NewReplacer("/", "_", `\`, "_", ":", "_").Replace(key)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("cache: %w: %q", apperr.ErrInvalidKey, key)
	}
	return name, nil
}

func (c *Cache) paths(key string) (data, meta, name string, err error) {
	name, err = Sanitize(key)
	if err != nil {
		return "", "", "", err
	}
	data = filepath.Join(c.root, name)
	return data, data + MetaSuffix, name, nil
}

func (c *Cache) lock(name string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Save writes data and a fresh lastFetched stamp for key.
// Writers of the same key are serialized; readers never block.
//
// Both halves are staged to temp files before either is renamed into place,
// data first. A failure before the data rename leaves the previous entry
// untouched; a failure on the sidecar rename leaves the new data under the
// previous, older stamp. Either way the entry stays loadable.
func (c *Cache) Save(key string, data []byte) error {
	dataPath, metaPath, name, err := c.paths(key)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(sidecar{LastFetched: c.now().UTC(), Key: key})
	if err != nil {
		return fmt.Errorf("cache: encode metadata: %w", err)
	}

	mu := c.lock(name)
	mu.Lock()
	defer mu.Unlock()

	metaTmp, err := c.stage(meta)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(metaTmp) }()
	dataTmp, err := c.stage(data)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(dataTmp) }()

	if err := c.rename(dataTmp, dataPath); err != nil {
		return fmt.Errorf("cache: rename %s: %w", key, err)
	}
	if err := c.rename(metaTmp, metaPath); err != nil {
		c.logger.Warn("cache: metadata not updated",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return fmt.Errorf("cache: rename metadata %s: %w", key, err)
	}
	return nil
}

// entry reads the sidecar of key. A sidecar written for a different key that
// sanitizes to the same name ("a/b.md" and "a_b.md") counts as a miss.
func (c *Cache) entry(key string) (dataPath string, sc sidecar, err error) {
	dataPath, metaPath, _, err := c.paths(key)
	if err != nil {
		return "", sc, err
	}
	sc, err = readSidecar(metaPath)
	if err != nil {
		return "", sc, err
	}
	if sc.Key != "" && sc.Key != key {
		return "", sc, fmt.Errorf("cache: %s: held by %q: %w", key, sc.Key, apperr.ErrNotFound)
	}
	return dataPath, sc, nil
}

// Load returns the cached bytes for key, or apperr.ErrNotFound.
func (c *Cache) Load(key string) ([]byte, error) {
	dataPath, _, err := c.entry(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("cache: %s: %w", key, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("cache: read %s: %w: %w", key, apperr.ErrCacheUnavailable, err)
	}
	return data, nil
}

// Exists reports whether both halves of the entry are present.
func (c *Cache) Exists(key string) bool {
	dataPath, _, err := c.entry(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(dataPath)
	return err == nil
}

// LastFetched returns when key was last saved.
func (c *Cache) LastFetched(key string) (time.Time, bool) {
	_, sc, err := c.entry(key)
	if err != nil {
		return time.Time{}, false
	}
	return sc.LastFetched, true
}

// IsStale reports true when key has no metadata or is older than maxAge.
// A non-positive maxAge uses DefaultMaxAge.
func (c *Cache) IsStale(key string, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if !c.Exists(key) {
		return true
	}
	last, _ := c.LastFetched(key)
	return c.now().Sub(last) > maxAge
}

// List returns every complete entry in the cache.
func (c *Cache) List() ([]Entry, error) {
	dirents, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("cache: list: %w: %w", apperr.ErrCacheUnavailable, err)
	}
	var out []Entry
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), MetaSuffix) {
			continue
		}
		metaPath := filepath.Join(c.root, d.Name())
		sc, err := readSidecar(metaPath)
		if err != nil {
			continue
		}
		info, err := os.Stat(strings.TrimSuffix(metaPath, MetaSuffix))
		if err != nil {
			continue
		}
		key := sc.Key
		if key == "" {
			key = strings.TrimSuffix(d.Name(), MetaSuffix)
		}
		out = append(out, Entry{Key: key, LastFetched: sc.LastFetched, Size: info.Size()})
	}
	return out, nil
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	dirents, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("cache: clear: %w: %w", apperr.ErrCacheUnavailable, err)
	}
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.root, d.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("cache: clear %s: %w", d.Name(), err)
		}
	}
	return nil
}

// ClearStale removes entries older than maxAge along with orphaned halves
// of incomplete entries. It returns the number of entries removed.
func (c *Cache) ClearStale(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	dirents, err := os.ReadDir(c.root)
	if err != nil {
		return 0, fmt.Errorf("cache: sweep: %w: %w", apperr.ErrCacheUnavailable, err)
	}

	names := make(map[string]struct{}, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() {
			names[d.Name()] = struct{}{}
		}
	}

	now := c.now()
	removed := 0
	for name := range names {
		if strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		if strings.HasSuffix(name, MetaSuffix) {
			dataName := strings.TrimSuffix(name, MetaSuffix)
			sc, err := readSidecar(filepath.Join(c.root, name))
			_, hasData := names[dataName]
			if err == nil && hasData && now.Sub(sc.LastFetched) <= maxAge {
				continue
			}
			c.removeEntry(dataName)
			removed++
			continue
		}
		if _, hasMeta := names[name+MetaSuffix]; !hasMeta {
			c.removeEntry(name)
		}
	}

	c.logger.Debug("cache: swept stale entries", slog.Int("removed", removed), slog.Duration("max_age", maxAge))
	return removed, nil
}

func (c *Cache) removeEntry(name string) {
	mu := c.lock(name)
	mu.Lock()
	defer mu.Unlock()
	_ = os.Remove(filepath.Join(c.root, name+MetaSuffix))
	_ = os.Remove(filepath.Join(c.root, name))
}

// stage writes content to a synced temp file in the cache root and returns
// its path. The caller renames or removes it.
func (c *Cache) stage(content []byte) (string, error) {
	tmp, err := os.CreateTemp(c.root, tmpPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("cache: create temp: %w: %w", apperr.ErrCacheUnavailable, err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("cache: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("cache: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("cache: close temp: %w", err)
	}
	success = true
	return tmpName, nil
}

func readSidecar(path string) (sidecar, error) {
	var sc sidecar
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sc, apperr.ErrNotFound
		}
		return sc, fmt.Errorf("cache: read metadata: %w: %w", apperr.ErrCacheUnavailable, err)
	}
	if err := json.Unmarshal(raw, &sc); err != nil || sc.LastFetched.IsZero() {
		return sc, fmt.Errorf("cache: corrupt metadata %s: %w", filepath.Base(path), apperr.ErrNotFound)
	}
	return sc, nil
}
