package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/helmsman/internal/contentservice"
	"github.com/starford/helmsman/internal/index"
	"github.com/starford/helmsman/internal/models"
	"github.com/starford/helmsman/internal/srs"
)

// DocumentResponse is a parsed document plus the links pointing at it.
type DocumentResponse struct {
	*models.Document
	Backlinks []models.Link `json:"backlinks"`
}

// DocumentListResponse wraps paginated document listings.
type DocumentListResponse struct {
	Documents []models.DocumentMetadata `json:"documents" validate:"required"`
	Total     int                       `json:"total" example:"42" validate:"required"`
}

// DeckResponse is a synced deck. With due=true Cards holds only due cards.
type DeckResponse = contentservice.Deck

// SyncDecksRequest is the request body for POST /decks/sync.
type SyncDecksRequest struct {
	Folders []string `json:"folders" example:"decks/knots,decks/rules"`
	Refresh bool     `json:"refresh"`
}

// Validate checks the folder list.
func (r SyncDecksRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Folders, validation.Required, validation.Length(1, 32),
			validation.Each(validation.Required)),
	)
}

// SyncDecksResponse lists the synced decks in request order.
// Folders that failed have a nil deck and an entry in Errors.
type SyncDecksResponse struct {
	Decks  []*contentservice.Deck `json:"decks"`
	Errors map[string]string      `json:"errors,omitempty"`
}

// ReviewRequest is the request body for POST /reviews.
type ReviewRequest struct {
	Card    models.Flashcard `json:"card"`
	Quality string           `json:"quality" example:"good" validate:"required"`
}

// Validate checks the card identity and the quality grade.
func (r ReviewRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Card, validation.By(func(any) error {
			return validation.ValidateStruct(&r.Card,
				validation.Field(&r.Card.ID, validation.Required),
			)
		})),
		validation.Field(&r.Quality, validation.Required, validation.By(func(v any) error {
			_, err := srs.ParseQuality(v.(string))
			return err
		})),
	)
}

// ReviewResponse carries the rescheduled card.
type ReviewResponse struct {
	Card models.Flashcard `json:"card"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// BacklinksResponse wraps the links pointing at a document.
type BacklinksResponse struct {
	Path  string        `json:"path"`
	Links []models.Link `json:"links"`
}

// PruneResponse reports how many cache entries a stale prune removed.
type PruneResponse struct {
	Removed int `json:"removed"`
}
