package api

import (
	"context"

	"github.com/starford/helmsman/internal/contentservice"
	"github.com/starford/helmsman/internal/index"
	"github.com/starford/helmsman/internal/models"
	"github.com/starford/helmsman/internal/ratelimit"
	"github.com/starford/helmsman/internal/srs"
)

// ContentService is the part of *contentservice.Service the API calls.
type ContentService interface {
	GetDocument(ctx context.Context, path string, refresh bool) (*models.Document, error)
	ListDocuments(ctx context.Context, prefix string, limit, offset int) ([]models.DocumentMetadata, int, error)
	SyncDeck(ctx context.Context, folder string, refresh bool) (*contentservice.Deck, error)
	SyncDecks(ctx context.Context, folders []string, refresh bool) ([]*contentservice.Deck, error)
	DueCards(cards []models.Flashcard) []models.Flashcard
	Review(ctx context.Context, card models.Flashcard, q srs.Quality) (models.Flashcard, error)
	Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error)
	Backlinks(ctx context.Context, path string) ([]models.Link, error)
	QuotaStatus() ratelimit.Status
	PruneCache(ctx context.Context) (int, error)
	ClearCache(ctx context.Context) error
}

var _ ContentService = (*contentservice.Service)(nil)
