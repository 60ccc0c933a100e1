// Package contentservice ties fetching, parsing, indexing and review
// scheduling together behind one API shared by the HTTP, MCP and CLI surfaces.
package contentservice

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/helmsman/internal/cache"
	"github.com/starford/helmsman/internal/fetcher"
	"github.com/starford/helmsman/internal/index"
	"github.com/starford/helmsman/internal/markdown"
	"github.com/starford/helmsman/internal/metrics"
	"github.com/starford/helmsman/internal/models"
	"github.com/starford/helmsman/internal/ratelimit"
	"github.com/starford/helmsman/internal/srs"
	"github.com/starford/helmsman/internal/sse"
)

// DefaultDeckParallelism bounds how many decks SyncDecks fetches at once.
const DefaultDeckParallelism = 4

// Publisher receives service events. *sse.Broker satisfies it.
type Publisher interface {
	Publish(sse.Event)
}

// Deck is a synced flashcard folder.
type Deck struct {
	Folder       string                `json:"folder"`
	Cards        []models.Flashcard    `json:"cards"`
	Failures     []fetcher.FileFailure `json:"failures,omitempty"`
	FailureCount int                   `json:"failure_count"`
	Skipped      []string              `json:"skipped,omitempty"`
	RateLimited  bool                  `json:"rate_limited"`
	Cancelled    bool                  `json:"cancelled"`
	SyncedAt     time.Time             `json:"synced_at"`
}

// DeckError is the failure of one folder in SyncDecks.
type DeckError struct {
	Folder string
	Err    error
}

func (e *DeckError) Error() string { return "deck " + e.Folder + ": " + e.Err.Error() }

func (e *DeckError) Unwrap() error { return e.Err }

// Service coordinates the fetcher, cache and index.
type Service struct {
	fetcher *fetcher.Fetcher
	cache   *cache.Cache
	db      *index.DB

	pub         Publisher
	metrics     *metrics.Collector
	logger      *slog.Logger
	now         func() time.Time
	maxAge      time.Duration
	parallelism int
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now for reviews and sync timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxAge sets the age after which PruneCache drops entries.
func WithMaxAge(d time.Duration) Option {
	return func(s *Service) { s.maxAge = d }
}

// WithDeckParallelism bounds concurrent deck syncs.
func WithDeckParallelism(n int) Option {
	return func(s *Service) { s.parallelism = n }
}

// NewService creates a new content service.
func NewService(f *fetcher.Fetcher, c *cache.Cache, db *index.DB, opts ...Option) *Service {
	s := &Service{
		fetcher:     f,
		cache:       c,
		db:          db,
		logger:      slog.Default(),
		now:         time.Now,
		maxAge:      cache.DefaultMaxAge,
		parallelism: DefaultDeckParallelism,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.parallelism <= 0 {
		s.parallelism = DefaultDeckParallelism
	}
	return s
}

// GetDocument fetches, parses and indexes one markdown document.
// refresh bypasses the cache. A stale fallback is returned with Warning set.
func (s *Service) GetDocument(ctx context.Context, p string, refresh bool) (*models.Document, error) {
	res, err := s.fetcher.Fetch(ctx, p, fetchOpts(refresh)...)
	if err != nil {
		return nil, err
	}
	content, sum, err := s.parse(res)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		Path:      res.Path,
		Content:   content,
		Checksum:  sum,
		Source:    string(res.Source),
		FetchedAt: res.FetchedAt,
	}
	if res.Warning != nil {
		doc.Warning = res.Warning.Error()
	}
	s.publish(sse.TypeContentFetched, map[string]string{"path": doc.Path, "source": doc.Source})
	return doc, nil
}

// SyncDeck fetches every card of a deck folder and returns them with fresh
// schedules. Persisting review state is the caller's job; card IDs are
// stable across syncs so stored schedules can be matched back.
func (s *Service) SyncDeck(ctx context.Context, folder string, refresh bool) (*Deck, error) {
	batch, err := s.fetcher.ListAndFetch(ctx, folder, fetchOpts(refresh)...)
	if batch == nil {
		return nil, err
	}

	deck := &Deck{
		Folder:       batch.Folder,
		Cards:        make([]models.Flashcard, 0, len(batch.Records)),
		Failures:     batch.Failures,
		FailureCount: batch.FailureCount,
		Skipped:      batch.Skipped,
		RateLimited:  batch.RateLimited,
		Cancelled:    batch.Cancelled,
		SyncedAt:     s.now().UTC(),
	}
	for _, rec := range batch.Records {
		content, sum, perr := s.parse(rec.Result)
		if perr != nil {
			deck.FailureCount++
			deck.Failures = append(deck.Failures, fetcher.FileFailure{Path: rec.Result.Path, Kind: "invalid_data", Err: perr})
			continue
		}
		deck.Cards = append(deck.Cards, models.Flashcard{
			ID:        models.FlashcardID(rec.Result.Path),
			Deck:      batch.Folder,
			Path:      rec.Result.Path,
			Front:     cardFront(content, rec.Name),
			Content:   content,
			Checksum:  sum,
			FetchedAt: rec.Result.FetchedAt,
			Schedule:  srs.NewSchedule(),
		})
	}

	if err != nil {
		return deck, err
	}
	s.publish(sse.TypeDeckSynced, map[string]any{
		"folder":       deck.Folder,
		"cards":        len(deck.Cards),
		"skipped":      len(deck.Skipped),
		"rate_limited": deck.RateLimited,
	})
	return deck, nil
}

// SyncDecks syncs several folders concurrently. Decks keep the order of
// folders; a folder that failed has a nil entry and a *DeckError joined
// into the returned error.
func (s *Service) SyncDecks(ctx context.Context, folders []string, refresh bool) ([]*Deck, error) {
	decks := make([]*Deck, len(folders))
	errs := make([]error, len(folders))

	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i, folder := range folders {
		g.Go(func() error {
			d, err := s.SyncDeck(ctx, folder, refresh)
			if err != nil {
				errs[i] = &DeckError{Folder: folder, Err: err}
				return nil
			}
			decks[i] = d
			return nil
		})
	}
	_ = g.Wait()
	return decks, errors.Join(errs...)
}

// Review applies one SM-2 review to card at the service clock.
func (s *Service) Review(_ context.Context, card models.Flashcard, q srs.Quality) (models.Flashcard, error) {
	out, err := srs.Review(card, q, s.now())
	if err != nil {
		return card, err
	}
	s.metrics.ObserveReview(q.String())
	return out, nil
}

// DueCards returns the cards of deck due now, new cards first.
func (s *Service) DueCards(cards []models.Flashcard) []models.Flashcard {
	return srs.Due(cards, s.now())
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// Backlinks returns the links pointing at a document.
func (s *Service) Backlinks(_ context.Context, p string) ([]models.Link, error) {
	return s.db.Backlinks(p)
}

// ListDocuments returns indexed documents under prefix, paginated.
func (s *Service) ListDocuments(_ context.Context, prefix string, limit, offset int) ([]models.DocumentMetadata, int, error) {
	rows, total, err := s.db.ListDocuments(prefix, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]models.DocumentMetadata, len(rows))
	for i, r := range rows {
		items[i] = models.DocumentMetadata{Path: r.Path, Title: r.Title, Checksum: r.Checksum, FetchedAt: r.FetchedAt}
	}
	return items, total, nil
}

// QuotaStatus reports the API quota as last observed.
func (s *Service) QuotaStatus() ratelimit.Status {
	return s.fetcher.Tracker().Status()
}

// PruneCache drops cache entries older than the configured max age and
// brings the index in line.
func (s *Service) PruneCache(_ context.Context) (int, error) {
	n, err := s.cache.ClearStale(s.maxAge)
	if err != nil {
		return n, err
	}
	return n, s.resync()
}

// ClearCache drops every cache entry and the documents indexed from them.
func (s *Service) ClearCache(_ context.Context) error {
	if err := s.cache.Clear(); err != nil {
		return err
	}
	return s.resync()
}

// Ready reports whether the index is reachable.
func (s *Service) Ready(_ context.Context) error {
	return s.db.Ping()
}

func (s *Service) resync() error {
	report, err := index.Sync(s.db, s.cache, s.logger)
	if err != nil {
		return err
	}
	for _, p := range report.Removed {
		s.publish(sse.TypeContentRemoved, map[string]string{"path": p})
	}
	return nil
}

// parse decodes and parses a fetch result and indexes it. Index failures are
// logged; the parsed content is still returned.
func (s *Service) parse(res *fetcher.Result) (*markdown.Content, string, error) {
	text, err := res.Text()
	if err != nil {
		s.metrics.ObserveError("invalid_data")
		return nil, "", err
	}
	content := markdown.Parse(text, res.Path)
	sum := index.Checksum(res.Content)

	if s.db != nil {
		if err := index.IndexContent(s.db, res.Path, content, sum, res.FetchedAt); err != nil {
			s.logger.Warn("index: upsert failed", slog.String("path", res.Path), slog.String("error", err.Error()))
		}
	}
	return content, sum, nil
}

func (s *Service) publish(typ string, data any) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(sse.Event{Type: typ, Data: data})
}

func fetchOpts(refresh bool) []fetcher.FetchOption {
	if refresh {
		return []fetcher.FetchOption{fetcher.ForceRefresh()}
	}
	return nil
}

// cardFront is the card's title, or its file name without extension.
func cardFront(c *markdown.Content, name string) string {
	if c.Title != "" {
		return c.Title
	}
	return strings.TrimSuffix(name, path.Ext(name))
}
