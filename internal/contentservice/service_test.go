package contentservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/starford/helmsman/internal/apperr"
	"github.com/starford/helmsman/internal/index"
	"github.com/starford/helmsman/internal/models"
	"github.com/starford/helmsman/internal/ratelimit"
	"github.com/starford/helmsman/internal/srs"
	"github.com/starford/helmsman/internal/sse"
	"github.com/starford/helmsman/internal/testutil"
)

var testNow = time.Date(2026, 6, 1, 15, 30, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recorder) Publish(e sse.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var remoteFiles = map[string]string{
	"guides/knots.md":        "# Knots\n\n## Bowline\nSee [[guides/safety]] first.\n- loop\n  - small\n",
	"guides/safety.md":       "# Safety\nWear a lifejacket.\n",
	"decks/knots/bowline.md": "# Bowline\nRabbit out of the hole.\n",
	"decks/knots/cleat.md":   "Figure eight, then a hitch.\n",
	"decks/rules/port.md":    "# Port\nGive way to starboard.\n",
}

type fixture struct {
	svc    *Service
	remote *testutil.Remote
	pub    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	remote := testutil.NewRemote(t, remoteFiles)
	c := testutil.TestCache(t)
	db := testutil.TestDB(t)
	pub := &recorder{}
	svc := NewService(remote.Fetcher(t, c), c, db,
		WithPublisher(pub),
		WithLogger(testutil.QuietLogger()),
		WithClock(func() time.Time { return testNow }))
	return &fixture{svc: svc, remote: remote, pub: pub}
}

func TestGetDocument_ParsesAndIndexes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	doc, err := fx.svc.GetDocument(ctx, "guides/knots.md", false)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Content.Title != "Knots" || doc.Source != "fresh" || doc.Checksum == "" {
		t.Errorf("doc = %+v", doc)
	}
	if len(doc.Content.Sections) != 1 || doc.Content.Sections[0].Title != "Bowline" {
		t.Errorf("sections = %+v", doc.Content.Sections)
	}

	items, total, err := fx.svc.ListDocuments(ctx, "guides/", 10, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if total != 1 || items[0].Path != "guides/knots.md" || items[0].Title != "Knots" {
		t.Errorf("list = %+v total=%d", items, total)
	}

	links, err := fx.svc.Backlinks(ctx, "guides/safety.md")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(links) != 1 || links[0].Source != "guides/knots.md" {
		t.Errorf("backlinks = %+v", links)
	}

	if got := fx.pub.types(); len(got) != 1 || got[0] != sse.TypeContentFetched {
		t.Errorf("events = %v", got)
	}
}

func TestGetDocument_SecondCallIsCached(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.GetDocument(ctx, "guides/safety.md", false); err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	doc, err := fx.svc.GetDocument(ctx, "guides/safety.md", false)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Source != "cache" {
		t.Errorf("source = %q, want cache", doc.Source)
	}
	if n := fx.remote.Hits("guides/safety.md"); n != 1 {
		t.Errorf("remote hits = %d, want 1", n)
	}

	if _, err := fx.svc.GetDocument(ctx, "guides/safety.md", true); err != nil {
		t.Fatalf("GetDocument refresh: %v", err)
	}
	if n := fx.remote.Hits("guides/safety.md"); n != 2 {
		t.Errorf("remote hits after refresh = %d, want 2", n)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.GetDocument(context.Background(), "guides/missing.md", false)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSyncDeck_BuildsCards(t *testing.T) {
	fx := newFixture(t)
	fx.remote.SetQuota(5)

	deck, err := fx.svc.SyncDeck(context.Background(), "decks/knots", false)
	if err != nil {
		t.Fatalf("SyncDeck: %v", err)
	}
	if len(deck.Cards) != 2 {
		t.Fatalf("cards = %+v", deck.Cards)
	}
	bowline, cleat := deck.Cards[0], deck.Cards[1]
	if bowline.Front != "Bowline" || cleat.Front != "cleat" {
		t.Errorf("fronts = %q, %q", bowline.Front, cleat.Front)
	}
	if bowline.ID != models.FlashcardID("decks/knots/bowline.md") || bowline.Deck != "decks/knots" {
		t.Errorf("bowline = %+v", bowline)
	}
	if bowline.Schedule.EaseFactor != srs.DefaultEaseFactor || bowline.Schedule.NextReview != nil {
		t.Errorf("schedule = %+v", bowline.Schedule)
	}
	if bowline.Checksum != index.Checksum([]byte(remoteFiles["decks/knots/bowline.md"])) {
		t.Errorf("checksum = %q, want git blob id of the file", bowline.Checksum)
	}
	if !deck.SyncedAt.Equal(testNow) {
		t.Errorf("synced at = %v", deck.SyncedAt)
	}

	st := fx.svc.QuotaStatus()
	if st.Remaining != 4 || st.State != ratelimit.StateWarning {
		t.Errorf("quota = %+v", st)
	}

	got := fx.pub.types()
	if len(got) != 1 || got[0] != sse.TypeDeckSynced {
		t.Errorf("events = %v", got)
	}
}

func TestSyncDecks_KeepsOrderAndJoinsErrors(t *testing.T) {
	fx := newFixture(t)

	decks, err := fx.svc.SyncDecks(context.Background(), []string{"decks/rules", "decks/knots", "decks/none"}, false)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for the missing folder", err)
	}
	if len(decks) != 3 || decks[2] != nil {
		t.Fatalf("decks = %+v", decks)
	}
	if decks[0].Folder != "decks/rules" || len(decks[0].Cards) != 1 {
		t.Errorf("rules = %+v", decks[0])
	}
	if decks[1].Folder != "decks/knots" || len(decks[1].Cards) != 2 {
		t.Errorf("knots = %+v", decks[1])
	}
}

func TestReview_UsesServiceClock(t *testing.T) {
	fx := newFixture(t)
	card := models.Flashcard{ID: "c1", Schedule: srs.NewSchedule()}

	out, err := fx.svc.Review(context.Background(), card, srs.Good)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if out.Schedule.Repetitions != 1 || out.Schedule.Interval != 1 {
		t.Errorf("schedule = %+v", out.Schedule)
	}
	want := srs.StartOfDay(testNow).AddDate(0, 0, 1)
	if out.Schedule.NextReview == nil || !out.Schedule.NextReview.Equal(want) {
		t.Errorf("next review = %v, want %v", out.Schedule.NextReview, want)
	}
	if due := fx.svc.DueCards([]models.Flashcard{out, card}); len(due) != 1 || due[0].ID != "c1" || due[0].Schedule.NextReview != nil {
		t.Errorf("due = %+v", due)
	}

	if _, err := fx.svc.Review(context.Background(), card, srs.Quality(7)); !errors.Is(err, srs.ErrInvalidQuality) {
		t.Errorf("err = %v, want ErrInvalidQuality", err)
	}
}

func TestClearCache_DropsIndexedDocuments(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.GetDocument(ctx, "guides/knots.md", false); err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if err := fx.svc.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	_, total, err := fx.svc.ListDocuments(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0 after clear", total)
	}
	got := fx.pub.types()
	if got[len(got)-1] != sse.TypeContentRemoved {
		t.Errorf("events = %v", got)
	}
}

func TestPruneCache_KeepsFreshEntries(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.GetDocument(ctx, "guides/knots.md", false); err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	n, err := fx.svc.PruneCache(ctx)
	if err != nil {
		t.Fatalf("PruneCache: %v", err)
	}
	if n != 0 {
		t.Errorf("removed = %d, want 0", n)
	}
	if err := fx.svc.Ready(ctx); err != nil {
		t.Errorf("Ready: %v", err)
	}
}
