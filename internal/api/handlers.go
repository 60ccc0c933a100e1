package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/helmsman/internal/contentservice"
	"github.com/starford/helmsman/internal/srs"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc ContentService
}

// NewHandler creates a new Handler.
func NewHandler(svc ContentService) *Handler {
	return &Handler{svc: svc}
}

// wildcardPath extracts the content path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. guides%2Fknots.md).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func boolQuery(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List indexed documents
//	@Tags			documents
//	@Produce		json
//	@Param			prefix	query		string	false	"Path prefix"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListDocuments(r.Context(), q.Get("prefix"), limit, offset)
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: items, Total: total})
}

// GetDocument handles GET /api/documents/*.
//
//	@Summary		Fetch, parse and index one document
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Param			refresh	query		bool	false	"Bypass the cache"
//	@Success		200		{object}	DocumentResponse
//	@Failure		404		{object}	errResponse
//	@Failure		429		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	doc, err := h.svc.GetDocument(r.Context(), path, boolQuery(r, "refresh"))
	if err != nil {
		writeError(w, "get document", err, "path", path)
		return
	}
	links, err := h.svc.Backlinks(r.Context(), doc.Path)
	if err != nil {
		writeError(w, "backlinks", err, "path", path)
		return
	}
	writeJSON(w, http.StatusOK, DocumentResponse{Document: doc, Backlinks: nonNil(links)})
}

// Backlinks handles GET /api/backlinks/*.
//
//	@Summary		Links pointing at a document
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	BacklinksResponse
//	@Security		BearerAuth
//	@Router			/backlinks/{path} [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	links, err := h.svc.Backlinks(r.Context(), path)
	if err != nil {
		writeError(w, "backlinks", err, "path", path)
		return
	}
	writeJSON(w, http.StatusOK, BacklinksResponse{Path: path, Links: nonNil(links)})
}

// GetDeck handles GET /api/decks/*.
//
//	@Summary		Sync a flashcard deck folder
//	@Tags			decks
//	@Produce		json
//	@Param			folder	path		string	true	"Deck folder"
//	@Param			refresh	query		bool	false	"Bypass the cache"
//	@Param			due		query		bool	false	"Only cards due now"
//	@Success		200		{object}	DeckResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/decks/{folder} [get]
func (h *Handler) GetDeck(w http.ResponseWriter, r *http.Request) {
	folder := wildcardPath(r)
	if folder == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("folder is required"))
		return
	}
	deck, err := h.svc.SyncDeck(r.Context(), folder, boolQuery(r, "refresh"))
	if err != nil {
		writeError(w, "sync deck", err, "folder", folder)
		return
	}
	if boolQuery(r, "due") {
		deck.Cards = nonNil(h.svc.DueCards(deck.Cards))
	}
	writeJSON(w, http.StatusOK, deck)
}

// SyncDecks handles POST /api/decks/sync.
//
//	@Summary		Sync several deck folders concurrently
//	@Tags			decks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SyncDecksRequest	true	"Folders"
//	@Success		200		{object}	SyncDecksResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/decks/sync [post]
func (h *Handler) SyncDecks(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req SyncDecksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	decks, err := h.svc.SyncDecks(r.Context(), req.Folders, req.Refresh)
	resp := SyncDecksResponse{Decks: decks}
	if err != nil {
		resp.Errors = make(map[string]string)
		var joined interface{ Unwrap() []error }
		if !errors.As(err, &joined) {
			writeError(w, "sync decks", err)
			return
		}
		for _, e := range joined.Unwrap() {
			var de *contentservice.DeckError
			if errors.As(e, &de) {
				resp.Errors[de.Folder] = de.Err.Error()
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Review handles POST /api/reviews.
//
//	@Summary		Apply one SM-2 review to a card
//	@Tags			decks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ReviewRequest	true	"Card and quality"
//	@Success		200		{object}	ReviewResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reviews [post]
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	q, _ := srs.ParseQuality(req.Quality)
	card, err := h.svc.Review(r.Context(), req.Card, q)
	if err != nil {
		writeError(w, "review", err, "card", req.Card.ID)
		return
	}
	writeJSON(w, http.StatusOK, ReviewResponse{Card: card})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across indexed documents
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err, "query", q)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNil(results)})
}

// Quota handles GET /api/quota.
//
//	@Summary		Current API quota as last observed
//	@Tags			quota
//	@Produce		json
//	@Success		200	{object}	ratelimit.Status
//	@Security		BearerAuth
//	@Router			/quota [get]
func (h *Handler) Quota(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.QuotaStatus())
}

// ClearCache handles DELETE /api/cache.
//
//	@Summary		Clear the content cache, or only stale entries
//	@Tags			cache
//	@Produce		json
//	@Param			stale	query		bool	false	"Only drop entries past max age"
//	@Success		200		{object}	PruneResponse
//	@Success		204		"Cache cleared"
//	@Security		BearerAuth
//	@Router			/cache [delete]
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if boolQuery(r, "stale") {
		n, err := h.svc.PruneCache(r.Context())
		if err != nil {
			writeError(w, "prune cache", err)
			return
		}
		writeJSON(w, http.StatusOK, PruneResponse{Removed: n})
		return
	}
	if err := h.svc.ClearCache(r.Context()); err != nil {
		writeError(w, "clear cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
