package index

import "github.com/starford/raido/internal/models"

// NoteIndex is the snapshot store consumed by the API and MCP layers.
type NoteIndex interface {
	UpsertNote(n NoteRow, body string) error
	DeleteNote(path string) error
	RenameNote(oldPath, newPath string) error
	GetChecksum(path string) (string, error)
	GetNote(path string) (*NoteRow, error)
	AllNotes() (map[string]NoteRow, error)
	AllChecksums() (map[string]string, error)
	Search(query string, limit int) ([]SearchResult, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)

// taskOf returns the snapshot's task with its path filled in.
func taskOf(n NoteRow) *models.Task {
	if n.Task == nil {
		return &models.Task{Path: n.Path, Title: n.Title, Tags: n.Tags}
	}
	t := n.Task.Clone()
	t.Path = n.Path
	return t
}
