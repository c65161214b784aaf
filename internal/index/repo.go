package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
)

// NoteRow represents a row in the notes table. Task is the parsed task view of
// the note, stored as JSON, whether or not the note passes identification.
type NoteRow struct {
	Path      string
	Title     string
	Checksum  string
	Tags      []string
	Task      *models.Task
	UpdatedAt time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// UpsertNote inserts or replaces a note and its FTS entry within a transaction.
func (db *DB) UpsertNote(n NoteRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := upsertTx(tx, n, body); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertTx(tx *sql.Tx, n NoteRow, body string) error {
	if n.Tags == nil {
		n.Tags = []string{}
	}
	tagsJSON, _ := json.Marshal(n.Tags)
	meta := []byte("{}")
	if n.Task != nil {
		var err error
		if meta, err = json.Marshal(n.Task); err != nil {
			return fmt.Errorf("index: encode metadata %s: %w", n.Path, err)
		}
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = time.Now()
	}

	// Body is kept for fallback search.
	_, err := tx.Exec(`
		INSERT INTO notes (path, title, checksum, tags, body, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title      = excluded.title,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			body       = excluded.body,
			metadata   = excluded.metadata,
			updated_at = excluded.updated_at
	`, n.Path, n.Title, n.Checksum, string(tagsJSON), body, string(meta), n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	return ftsUpsert(tx, n.Path, n.Title, body, n.Tags)
}

// DeleteNote removes a note and its FTS entry.
func (db *DB) DeleteNote(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete note: %w", err)
	}
	return tx.Commit()
}

// RenameNote moves a row to newPath, replacing whatever was stored there.
func (db *DB) RenameNote(oldPath, newPath string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row, body, err := getTx(tx, oldPath)
	if err != nil {
		return err
	}
	if err := ftsDelete(tx, oldPath); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM notes WHERE path = ?`, oldPath); err != nil {
		return fmt.Errorf("index: rename note: %w", err)
	}
	row.Path = newPath
	if row.Task != nil {
		row.Task.Path = newPath
	}
	if err := upsertTx(tx, *row, body); err != nil {
		return err
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a note, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM notes WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: checksum: %w", err)
	}
	return cs, nil
}

// GetNote returns the stored row for path.
func (db *DB) GetNote(path string) (*NoteRow, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row, _, err := getTx(tx, path)
	return row, err
}

func getTx(tx *sql.Tx, path string) (*NoteRow, string, error) {
	var row NoteRow
	var tags, meta, body string
	err := tx.QueryRow(`SELECT path, title, checksum, tags, body, metadata, updated_at FROM notes WHERE path = ?`, path).
		Scan(&row.Path, &row.Title, &row.Checksum, &tags, &body, &meta, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("index: note %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("index: get note: %w", err)
	}
	if err := decodeRow(&row, tags, meta); err != nil {
		return nil, "", err
	}
	return &row, body, nil
}

func decodeRow(row *NoteRow, tags, meta string) error {
	if err := json.Unmarshal([]byte(tags), &row.Tags); err != nil {
		return fmt.Errorf("index: decode tags %s: %w", row.Path, err)
	}
	var t models.Task
	if err := json.Unmarshal([]byte(meta), &t); err != nil {
		return fmt.Errorf("index: decode metadata %s: %w", row.Path, err)
	}
	t.Path = row.Path
	row.Task = &t
	return nil
}

// AllNotes returns every stored row keyed by path.
func (db *DB) AllNotes() (map[string]NoteRow, error) {
	rows, err := db.conn.Query(`SELECT path, title, checksum, tags, metadata, updated_at FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all notes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]NoteRow)
	for rows.Next() {
		var (
			row        NoteRow
			tags, meta string
		)
		if err := rows.Scan(&row.Path, &row.Title, &row.Checksum, &tags, &meta, &row.UpdatedAt); err != nil {
			return nil, err
		}
		if err := decodeRow(&row, tags, meta); err != nil {
			return nil, err
		}
		out[row.Path] = row
	}
	return out, rows.Err()
}

// AllChecksums returns path -> checksum for every stored note.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Meta returns a stored bookkeeping value, or "" when unset.
func (db *DB) Meta(key string) (string, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: meta %s: %w", key, err)
	}
	return v, nil
}

// SetMeta stores a bookkeeping value.
func (db *DB) SetMeta(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("index: set meta %s: %w", key, err)
	}
	return nil
}
