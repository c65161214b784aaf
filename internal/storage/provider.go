// Package storage gives the engine confined access to the Markdown vault.
package storage

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/starford/raido/internal/models"
)

// Provider reads and rewrites vault notes. Paths are slash-separated and
// relative to the vault root.
type Provider interface {
	// List returns every .md note below dir. Dot-directories are skipped.
	List(dir string) ([]models.NoteMetadata, error)
	Read(path string) ([]byte, error)
	// Write atomically replaces the note, creating parent directories.
	Write(path string, content []byte) error
	// Replace is Write guarded by the checksum the caller last read. It fails
	// with apperr.ErrConflict when the note changed in the meantime.
	Replace(path string, content []byte, sum string) error
}

// Checksum is the hex SHA-256 of a note body, used to pair renames and detect
// concurrent edits.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
