package index

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/starford/helmsman/internal/cache"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testCache(t *testing.T, now func() time.Time) *cache.Cache {
	t.Helper()
	opts := []cache.Option{cache.WithLogger(quietLogger())}
	if now != nil {
		opts = append(opts, cache.WithClock(now))
	}
	c, err := cache.New(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return c
}

func TestSync_IndexesMarkdownOnly(t *testing.T) {
	db := testDB(t)
	c := testCache(t, nil)
	_ = c.Save("guides/knots.md", []byte("# Knots\nSee [[Bowline]]."))
	_ = c.Save("listing:decks/knots", []byte(`[]`))
	_ = c.Save("guides/chart.png", []byte{0x89, 'P', 'N', 'G'})

	report, err := Sync(db, c, quietLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(report.Indexed) != 1 || report.Indexed[0] != "guides/knots.md" {
		t.Fatalf("indexed = %v", report.Indexed)
	}
	doc, err := db.GetDocument("guides/knots.md")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Title != "Knots" {
		t.Errorf("title = %q", doc.Title)
	}
	bl, _ := db.Backlinks("guides/Bowline.md")
	if len(bl) != 1 {
		t.Errorf("backlinks = %+v", bl)
	}
}

func TestSync_SkipsUnchangedAndRemovesGone(t *testing.T) {
	db := testDB(t)
	clock := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	c := testCache(t, func() time.Time { return clock })
	_ = c.Save("a.md", []byte("# A"))
	_ = c.Save("b.md", []byte("# B"))
	if _, err := Sync(db, c, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// Refetch of a.md with identical bytes only moves the fetch time.
	clock = clock.Add(time.Hour)
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	_ = c.Save("a.md", []byte("# A"))

	report, err := Sync(db, c, quietLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(report.Indexed) != 0 {
		t.Errorf("unchanged content re-indexed: %v", report.Indexed)
	}
	if len(report.Removed) != 1 || report.Removed[0] != "b.md" {
		t.Errorf("removed = %v", report.Removed)
	}
	doc, _ := db.GetDocument("a.md")
	if doc == nil || !doc.FetchedAt.Equal(clock) {
		t.Errorf("fetched_at not refreshed: %+v", doc)
	}
}
