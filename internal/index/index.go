package index

import "github.com/starford/helmsman/internal/models"

// DocumentIndex is what the content service needs from the index.
type DocumentIndex interface {
	UpsertDocument(d DocumentRow, body string, links []models.Link) error
	DeleteDocument(path string) error
	GetChecksum(path string) (string, error)
	GetDocument(path string) (*DocumentRow, error)
	ListDocuments(prefix string, limit, offset int) ([]DocumentRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Backlinks(path string) ([]models.Link, error)
	Ping() error
	Close() error
}

var _ DocumentIndex = (*DB)(nil)
