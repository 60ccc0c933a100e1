package index

import (
	"log/slog"
	"strings"
	"time"

	"github.com/starford/helmsman/internal/cache"
	"github.com/starford/helmsman/internal/markdown"
	"github.com/starford/helmsman/internal/models"
)

// SyncReport lists what a Sync pass changed.
type SyncReport struct {
	Indexed []string
	Removed []string
}

// IsMarkdownKey reports whether a cache key holds a markdown document.
// Listing snapshots and other blobs share the cache and are not indexed.
func IsMarkdownKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".md") && !strings.Contains(key, ":")
}

// Sync brings the index in line with the content cache:
//   - new or refetched documents are parsed and upserted
//   - documents whose cache entry is gone are deleted from the index
func Sync(db *DB, c *cache.Cache, logger *slog.Logger) (SyncReport, error) {
	var report SyncReport

	entries, err := c.List()
	if err != nil {
		return report, err
	}
	states, err := db.allStates()
	if err != nil {
		return report, err
	}

	cached := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !IsMarkdownKey(e.Key) {
			continue
		}
		cached[e.Key] = struct{}{}

		st, known := states[e.Key]
		if known && st.fetchedAt.Equal(e.LastFetched) {
			continue
		}

		data, err := c.Load(e.Key)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", e.Key), slog.String("error", err.Error()))
			continue
		}
		sum := Checksum(data)
		if known && st.checksum == sum {
			// Refetched with identical content: only the fetch time moved.
			if err := db.touch(e.Key, e.LastFetched); err != nil {
				logger.Warn("sync: touch failed", slog.String("path", e.Key), slog.String("error", err.Error()))
			}
			continue
		}
		if err := IndexContent(db, e.Key, markdown.Parse(string(data), e.Key), sum, e.LastFetched); err != nil {
			logger.Warn("sync: index failed", slog.String("path", e.Key), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: indexed", slog.String("path", e.Key))
		report.Indexed = append(report.Indexed, e.Key)
	}

	for p := range states {
		if _, ok := cached[p]; ok {
			continue
		}
		if err := db.DeleteDocument(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("path", p))
		report.Removed = append(report.Removed, p)
	}

	return report, nil
}

// IndexContent upserts an already parsed document.
func IndexContent(db DocumentIndex, path string, c *markdown.Content, sum string, fetchedAt time.Time) error {
	links := make([]models.Link, 0, len(c.Wikilinks))
	for _, w := range c.Wikilinks {
		links = append(links, models.Link{Source: path, Target: w.Link, Embedded: w.IsEmbedded})
	}
	row := DocumentRow{
		Path:      path,
		Title:     c.Title,
		Checksum:  sum,
		FetchedAt: fetchedAt,
	}
	return db.UpsertDocument(row, c.PlainText(), links)
}

func (db *DB) touch(path string, fetchedAt time.Time) error {
	_, err := db.conn.Exec(`UPDATE documents SET fetched_at = ? WHERE path = ?`, fetchedAt.UTC(), path)
	return err
}
