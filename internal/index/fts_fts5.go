//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			path UNINDEXED,
			title,
			tags,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, path, title, body string, tags []string) error {
	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO notes_fts (path, title, tags, body) VALUES (?, ?, ?, ?)`,
		path, title, strings.Join(tags, " "), body); err != nil {
		return fmt.Errorf("index: upsert fts %s: %w", path, err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, path string) error {
	if _, err := tx.Exec(`DELETE FROM notes_fts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete fts %s: %w", path, err)
	}
	return nil
}

// matchExpr turns terms into prefix phrases joined by implicit AND, so
// "water pla" finds "Water plants".
func matchExpr(terms []string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"*`
	}
	return strings.Join(parts, " ")
}

// Search ranks notes with bm25, weighting title over tags over body.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rows, err := db.conn.Query(`
		SELECT path, title, snippet(notes_fts, 3, '<b>', '</b>', '...', 24), body
		FROM notes_fts
		WHERE notes_fts MATCH ?
		ORDER BY bm25(notes_fts, 0, 10.0, 5.0, 1.0)
		LIMIT ?
	`, matchExpr(terms), limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	out := []SearchResult{}
	for rows.Next() {
		var (
			r    SearchResult
			body string
		)
		if err := rows.Scan(&r.Path, &r.Title, &r.Snippet, &body); err != nil {
			return nil, fmt.Errorf("index: search scan: %w", err)
		}
		if !strings.Contains(r.Snippet, "<b>") {
			// Title or tag hit: show the start of the note instead.
			r.Snippet = snippet(body, terms)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
