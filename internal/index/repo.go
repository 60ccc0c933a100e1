package index

import (
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/starford/helmsman/internal/apperr"
	"github.com/starford/helmsman/internal/models"
)

// DocumentRow represents a row in the documents table.
type DocumentRow struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	FetchedAt time.Time `json:"fetched_at"`
	IndexedAt time.Time `json:"indexed_at"`
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// UpsertDocument inserts or replaces a document, its FTS entry and its
// outgoing links within a transaction.
func (db *DB) UpsertDocument(d DocumentRow, body string, links []models.Link) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if d.IndexedAt.IsZero() {
		d.IndexedAt = time.Now().UTC()
	}
	_, err = tx.Exec(`
		INSERT INTO documents (path, title, checksum, body, fetched_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title      = excluded.title,
			checksum   = excluded.checksum,
			body       = excluded.body,
			fetched_at = excluded.fetched_at,
			indexed_at = excluded.indexed_at
	`, d.Path, d.Title, d.Checksum, body, d.FetchedAt.UTC(), d.IndexedAt.UTC())
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	if err := ftsUpsert(tx, d.Path, d.Title, body); err != nil {
		return err
	}

	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, d.Path)
	if len(links) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target, embedded) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, l := range links {
			if _, err := stmt.Exec(d.Path, l.Target, l.Embedded); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteDocument removes a document, its FTS entry and its outgoing links.
func (db *DB) DeleteDocument(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, path)
	_, _ = tx.Exec(`DELETE FROM documents WHERE path = ?`, path)

	return tx.Commit()
}

// GetChecksum returns the stored checksum for a document, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM documents WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// GetDocument returns the row for path or apperr.ErrNotFound.
func (db *DB) GetDocument(path string) (*DocumentRow, error) {
	var d DocumentRow
	err := db.conn.QueryRow(`SELECT path, title, checksum, fetched_at, indexed_at FROM documents WHERE path = ?`, path).
		Scan(&d.Path, &d.Title, &d.Checksum, &d.FetchedAt, &d.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get document: %w", err)
	}
	return &d, nil
}

// ListDocuments returns documents under prefix ordered by path, plus the
// total count ignoring limit and offset.
func (db *DB) ListDocuments(prefix string, limit, offset int) ([]DocumentRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	like := escapeLike(prefix) + "%"

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents WHERE path LIKE ? ESCAPE '\'`, like).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count documents: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT path, title, checksum, fetched_at, indexed_at
		FROM documents
		WHERE path LIKE ? ESCAPE '\'
		ORDER BY path
		LIMIT ? OFFSET ?
	`, like, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		var d DocumentRow
		if err := rows.Scan(&d.Path, &d.Title, &d.Checksum, &d.FetchedAt, &d.IndexedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

type docState struct {
	checksum  string
	fetchedAt time.Time
}

// allStates returns checksum and fetch time for every indexed document.
func (db *DB) allStates() (map[string]docState, error) {
	rows, err := db.conn.Query(`SELECT path, checksum, fetched_at FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all states: %w", err)
	}
	defer rows.Close()
	out := make(map[string]docState)
	for rows.Next() {
		var (
			p  string
			st docState
		)
		if err := rows.Scan(&p, &st.checksum, &st.fetchedAt); err != nil {
			return nil, err
		}
		out[p] = st
	}
	return out, rows.Err()
}

// Backlinks returns the links pointing at the document stored under docPath.
// A wikilink may name the document by full path, by path without the .md
// extension, or by bare file name.
func (db *DB) Backlinks(docPath string) ([]models.Link, error) {
	targets := LinkTargets(docPath)
	args := make([]any, len(targets))
	for i, t := range targets {
		args[i] = t
	}
	q := `SELECT source, target, embedded FROM links WHERE target IN (?` + strings.Repeat(",?", len(targets)-1) + `) ORDER BY source`
	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []models.Link
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.Source, &l.Target, &l.Embedded); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// LinkTargets lists the spellings a wikilink may use to refer to docPath.
func LinkTargets(docPath string) []string {
	noExt := strings.TrimSuffix(docPath, path.Ext(docPath))
	base := path.Base(noExt)
	out := []string{docPath}
	for _, t := range []string{noExt, base} {
		if t != "" && t != "." && t != "/" && !contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
