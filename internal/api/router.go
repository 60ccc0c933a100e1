package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc ContentService, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents.
	r.Get("/documents", h.ListDocuments)
	r.Get("/documents/*", h.GetDocument)
	r.Get("/backlinks/*", h.Backlinks)

	// Decks and reviews.
	r.Get("/decks/*", h.GetDeck)
	r.Post("/decks/sync", h.SyncDecks)
	r.Post("/reviews", h.Review)

	// Search.
	r.Get("/search", h.Search)

	// Quota and cache.
	r.Get("/quota", h.Quota)
	r.Delete("/cache", h.ClearCache)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
