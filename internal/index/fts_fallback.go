//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(*sql.DB) error { return nil }

// The notes table already holds the body the LIKE search scans.
func ftsUpsert(*sql.Tx, string, string, string, []string) error { return nil }

func ftsDelete(*sql.Tx, string) error { return nil }

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search requires every term to appear in the title, tags or body. Title hits
// sort first.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var (
		where []string
		args  []any
	)
	for _, t := range terms {
		like := "%" + likeEscaper.Replace(t) + "%"
		where = append(where, `(title LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	first := "%" + likeEscaper.Replace(terms[0]) + "%"
	args = append(args, first, limit)

	rows, err := db.conn.Query(`
		SELECT path, title, body
		FROM notes
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY (title LIKE ? ESCAPE '\') DESC, path
		LIMIT ?
	`, args...)
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
		if err := rows.Scan(&r.Path, &r.Title, &body); err != nil {
			return nil, fmt.Errorf("index: search scan: %w", err)
		}
		r.Snippet = snippet(body, terms)
		out = append(out, r)
	}
	return out, rows.Err()
}
