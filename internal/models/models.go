// Package models defines the domain types shared by the fetch, parse and review pipeline.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/starford/helmsman/internal/markdown"
)

// Document is a fetched and parsed markdown file.
type Document struct {
	Path      string            `json:"path"`
	Content   *markdown.Content `json:"content"`
	Checksum  string            `json:"checksum"`
	Source    string            `json:"source"` // fresh, cache or stale
	Warning   string            `json:"warning,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// DocumentMetadata is the lightweight row returned by index listings and searches.
type DocumentMetadata struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Link is a directed wikilink edge between two documents.
type Link struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Embedded bool   `json:"embedded"`
}

// Schedule holds the SM-2 fields of a flashcard. Persisting it is the caller's job.
type Schedule struct {
	EaseFactor   float64    `json:"ease_factor"`
	Interval     int        `json:"interval"` // days
	Repetitions  int        `json:"repetitions"`
	LastReviewed *time.Time `json:"last_reviewed,omitempty"`
	NextReview   *time.Time `json:"next_review,omitempty"`
	LastQuality  *int       `json:"last_quality,omitempty"`
}

// Flashcard is one card of a deck. The card's markdown is its back side.
type Flashcard struct {
	ID        string            `json:"id"`
	Deck      string            `json:"deck"`
	Path      string            `json:"path"`
	Front     string            `json:"front"`
	Content   *markdown.Content `json:"content,omitempty"`
	Checksum  string            `json:"checksum"`
	FetchedAt time.Time         `json:"fetched_at"`
	Schedule  Schedule          `json:"schedule"`
}

var flashcardNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/starford/helmsman/flashcards"))

// FlashcardID derives a stable card ID from its logical path, so refetching a
// deck keeps review history attached to the same cards.
func FlashcardID(path string) string {
	return uuid.NewSHA1(flashcardNamespace, []byte(path)).String()
}
