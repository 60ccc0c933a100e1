package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/starford/helmsman/internal/apperr"
	"github.com/starford/helmsman/internal/retry"
)

// ErrBatchFailed is returned by ListAndFetch when no file in the folder could be fetched.
var ErrBatchFailed = errors.New("batch fetch failed")

const listingKeyPrefix = "listing:"

// DirEntry is one item of a contents listing.
type DirEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
	// SHA is the git blob id; it equals index.Checksum of the file content.
	SHA string `json:"sha"`
}

// IsMarkdown reports whether the entry is a markdown file.
func (e DirEntry) IsMarkdown() bool {
	return (e.Type == "" || e.Type == "file") && strings.EqualFold(path.Ext(e.Name), ".md")
}

// Record is one successfully fetched file of a batch.
type Record struct {
	Name   string  `json:"name"`
	Result *Result `json:"result"`
}

// FileFailure is one file a batch could not fetch.
type FileFailure struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
	Err  error  `json:"-"`
}

// BatchResult is the outcome of ListAndFetch. Records keep listing order.
type BatchResult struct {
	Folder   string        `json:"folder"`
	Records  []Record      `json:"records"`
	Failures []FileFailure `json:"failures,omitempty"`
	// FailureCount counts every failure, including those beyond the Failures cap.
	FailureCount int      `json:"failure_count"`
	Skipped      []string `json:"skipped,omitempty"`
	RateLimited  bool     `json:"rate_limited"`
	Cancelled    bool     `json:"cancelled"`
}

func (b *BatchResult) addFailure(p string, err error, limit int) {
	b.FailureCount++
	if len(b.Failures) < limit {
		b.Failures = append(b.Failures, FileFailure{Path: p, Kind: apperr.Kind(err), Err: err})
	}
}

func (b *BatchResult) skipRest(entries []DirEntry) {
	for _, e := range entries {
		b.Skipped = append(b.Skipped, entryPath(e))
	}
}

func entryPath(e DirEntry) string {
	if e.Path != "" {
		return e.Path
	}
	return e.Name
}

// ListDirectory lists the markdown files of folder through the metered API host.
// When the quota is exhausted or the host is unreachable, the last cached
// listing is served instead.
func (f *Fetcher) ListDirectory(ctx context.Context, folder string) ([]DirEntry, error) {
	folder = normalizeKey(folder)
	cacheKey := listingKeyPrefix + folder

	target, err := f.DirectoryURL(folder)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w: %v", folder, apperr.ErrInvalidURL, err)
	}

	if f.tracker.Meters(u.Host) {
		if st := f.tracker.Status(); st.Limited() {
			return f.cachedListing(folder, cacheKey, &apperr.RateLimitedError{ResetIn: st.ResetIn})
		}
	}

	body, err := retry.Execute(ctx, f.retry, func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, target, true)
	}, shouldRetry)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if canFallback(err) {
			return f.cachedListing(folder, cacheKey, err)
		}
		f.metrics.ObserveError(apperr.Kind(err))
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}

	entries, err := decodeListing(body)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}
	if err := f.cache.Save(cacheKey, body); err != nil {
		f.logger.Warn("list: cache write failed", slog.String("folder", folder), slog.String("error", err.Error()))
	}
	return entries, nil
}

func (f *Fetcher) cachedListing(folder, cacheKey string, cause error) ([]DirEntry, error) {
	body, err := f.cache.Load(cacheKey)
	if err != nil {
		f.metrics.ObserveError(apperr.Kind(cause))
		return nil, fmt.Errorf("list %s: %w", folder, cause)
	}
	entries, err := decodeListing(body)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, cause)
	}
	f.logger.Warn("list: serving cached listing",
		slog.String("folder", folder),
		slog.String("reason", cause.Error()))
	return entries, nil
}

func decodeListing(body []byte) ([]DirEntry, error) {
	var all []DirEntry
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("%w: listing: %v", apperr.ErrInvalidData, err)
	}
	out := make([]DirEntry, 0, len(all))
	for _, e := range all {
		if e.IsMarkdown() {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListAndFetch lists folder and fetches every markdown file in it.
//
// The quota is re-checked before each file; once it is exhausted the batch
// stops and the remaining files are reported in Skipped. A cancelled ctx also
// stops the batch and keeps what was fetched. The returned error is non-nil
// only when the listing fails, or when nothing was fetched and at least one
// file failed.
func (f *Fetcher) ListAndFetch(ctx context.Context, folder string, opts ...FetchOption) (*BatchResult, error) {
	folder = normalizeKey(folder)
	entries, err := f.ListDirectory(ctx, folder)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{Folder: folder, Records: make([]Record, 0, len(entries))}
	var firstErr error

	for i, e := range entries {
		if ctx.Err() != nil {
			res.Cancelled = true
			res.skipRest(entries[i:])
			break
		}
		if f.tracker.Status().Limited() {
			res.RateLimited = true
			res.skipRest(entries[i:])
			break
		}
		if i > 0 && f.cfg.BatchDelay > 0 {
			if err := f.sleep(ctx, f.cfg.BatchDelay); err != nil {
				res.Cancelled = true
				res.skipRest(entries[i:])
				break
			}
		}

		p := entryPath(e)
		r, err := f.Fetch(ctx, p, opts...)
		if err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				res.skipRest(entries[i:])
				break
			}
			if _, ok := apperr.AsRateLimited(err); ok {
				res.RateLimited = true
				res.skipRest(entries[i:])
				break
			}
			if firstErr == nil {
				firstErr = err
			}
			res.addFailure(p, err, f.cfg.MaxBatchFailures)
			continue
		}

		res.Records = append(res.Records, Record{Name: e.Name, Result: r})
		if _, ok := apperr.AsRateLimited(r.Warning); ok {
			res.RateLimited = true
			res.skipRest(entries[i+1:])
			break
		}
	}

	f.metrics.ObserveBatchFile("fetched", len(res.Records))
	f.metrics.ObserveBatchFile("failed", res.FailureCount)
	f.metrics.ObserveBatchFile("skipped", len(res.Skipped))

	attrs := []any{
		slog.String("folder", folder),
		slog.Int("fetched", len(res.Records)),
		slog.Int("failed", res.FailureCount),
		slog.Int("skipped", len(res.Skipped)),
	}
	switch {
	case res.Cancelled:
		f.logger.Info("batch: cancelled", attrs...)
	case res.RateLimited:
		f.logger.Warn("batch: stopped on exhausted quota", attrs...)
	default:
		f.logger.Info("batch: done", attrs...)
	}

	if len(res.Records) == 0 && firstErr != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrBatchFailed, folder, firstErr)
	}
	return res, nil
}
