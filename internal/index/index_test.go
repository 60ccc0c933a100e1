package index

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/helmsman/internal/apperr"
	"github.com/starford/helmsman/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "helmsman-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func link(src, target string) models.Link {
	return models.Link{Source: src, Target: target}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents`).Scan(&count); err != nil {
		t.Fatalf("documents table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM links`).Scan(&count); err != nil {
		t.Fatalf("links table missing: %v", err)
	}
}

func TestUpsertAndGetDocument(t *testing.T) {
	db := testDB(t)
	fetched := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	row := DocumentRow{Path: "guides/knots.md", Title: "Knots", Checksum: "abc123", FetchedAt: fetched}
	if err := db.UpsertDocument(row, "bowline and cleat hitch", []models.Link{link("guides/knots.md", "Bowline")}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	cs, err := db.GetChecksum("guides/knots.md")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}
	got, err := db.GetDocument("guides/knots.md")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != "Knots" || !got.FetchedAt.Equal(fetched) {
		t.Errorf("document = %+v", got)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetDocument("nope.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBacklinks_MatchesAllSpellings(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.UpsertDocument(DocumentRow{Path: "a.md", Checksum: "1", FetchedAt: now}, "body", []models.Link{link("a.md", "guides/Bowline.md")})
	_ = db.UpsertDocument(DocumentRow{Path: "b.md", Checksum: "2", FetchedAt: now}, "body", []models.Link{link("b.md", "guides/Bowline")})
	_ = db.UpsertDocument(DocumentRow{Path: "c.md", Checksum: "3", FetchedAt: now}, "body", []models.Link{{Source: "c.md", Target: "Bowline", Embedded: true}})
	_ = db.UpsertDocument(DocumentRow{Path: "d.md", Checksum: "4", FetchedAt: now}, "body", []models.Link{link("d.md", "Reefing")})

	bl, err := db.Backlinks("guides/Bowline.md")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(bl) != 3 {
		t.Fatalf("expected 3 backlinks, got %+v", bl)
	}
	if bl[2].Source != "c.md" || !bl[2].Embedded {
		t.Errorf("embedded backlink = %+v", bl[2])
	}
}

func TestDeleteDocument(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocumentRow{Path: "del.md", Checksum: "x", FetchedAt: time.Now()}, "body", []models.Link{link("del.md", "target")})

	if err := db.DeleteDocument("del.md"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	cs, _ := db.GetChecksum("del.md")
	if cs != "" {
		t.Errorf("deleted document still has checksum %q", cs)
	}
	bl, _ := db.Backlinks("target.md")
	if len(bl) != 0 {
		t.Errorf("expected 0 backlinks after delete, got %d", len(bl))
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.UpsertDocument(DocumentRow{Path: "up.md", Title: "Old", Checksum: "1", FetchedAt: now}, "old body", []models.Link{link("up.md", "x")})
	_ = db.UpsertDocument(DocumentRow{Path: "up.md", Title: "New", Checksum: "2", FetchedAt: now}, "new body", []models.Link{link("up.md", "y")})

	cs, _ := db.GetChecksum("up.md")
	if cs != "2" {
		t.Errorf("checksum = %q, want %q", cs, "2")
	}
	bl, _ := db.Backlinks("x.md")
	if len(bl) != 0 {
		t.Error("old link should be removed on upsert")
	}
	bl, _ = db.Backlinks("y.md")
	if len(bl) != 1 {
		t.Error("new link should exist")
	}
}

func TestListDocuments_Prefix(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	for _, p := range []string{"decks/knots/a.md", "decks/knots/b.md", "decks/rules/c.md", "guides/d.md"} {
		_ = db.UpsertDocument(DocumentRow{Path: p, Checksum: p, FetchedAt: now}, "", nil)
	}
	rows, total, err := db.ListDocuments("decks/knots/", 1, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if total != 2 || len(rows) != 1 || rows[0].Path != "decks/knots/a.md" {
		t.Errorf("rows=%+v total=%d", rows, total)
	}
	rows, _, _ = db.ListDocuments("decks/knots/", 10, 1)
	if len(rows) != 1 || rows[0].Path != "decks/knots/b.md" {
		t.Errorf("offset page = %+v", rows)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocumentRow{Path: "s.md", Title: "Search Me", Checksum: "1", FetchedAt: time.Now()}, "uniqueword appears here", nil)

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "s.md" {
		t.Errorf("search results = %+v, want 1 hit for s.md", results)
	}
}

func TestLinkTargets(t *testing.T) {
	got := LinkTargets("guides/safety/Lifejackets.md")
	want := []string{"guides/safety/Lifejackets.md", "guides/safety/Lifejackets", "Lifejackets"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
