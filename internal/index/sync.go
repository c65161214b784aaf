package index

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/parser"
	"github.com/starford/raido/internal/storage"
)

// fieldsKey stores the fingerprint of the field map the snapshot was parsed
// with. A different map invalidates every stored row.
const fieldsKey = "fields_fingerprint"

// Sink receives note events. *engine.Engine implements it.
type Sink interface {
	Apply(ev engine.Event) error
	Reindex(ctx context.Context, entries []engine.Entry) error
}

// Indexer keeps the snapshot and the engine in line with the vault.
type Indexer struct {
	db     *DB
	store  storage.Provider
	fields parser.FieldMap
	sink   Sink
	logger *slog.Logger

	renameWindow time.Duration
}

// NewIndexer wires the snapshot db, the vault and the engine together.
func NewIndexer(db *DB, store storage.Provider, fields parser.FieldMap, sink Sink, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		db:           db,
		store:        store,
		fields:       fields.WithDefaults(),
		sink:         sink,
		logger:       logger,
		renameWindow: 200 * time.Millisecond,
	}
}

// Sync walks the vault and brings the index and the engine up to date:
//   - new/changed files are parsed and upserted
//   - unchanged files are taken from the snapshot without parsing
//   - files removed from disk are deleted from the index
//
// Every note then goes to the engine in one Reindex.
func (ix *Indexer) Sync(ctx context.Context) error {
	start := time.Now()
	metas, err := ix.store.List("")
	if err != nil {
		return err
	}
	rows, err := ix.db.AllNotes()
	if err != nil {
		return err
	}

	fp, err := fieldsFingerprint(ix.fields)
	if err != nil {
		return err
	}
	stored, err := ix.db.Meta(fieldsKey)
	if err != nil {
		return err
	}
	force := stored != fp
	if force && len(rows) > 0 {
		ix.logger.Info("sync: field mapping changed, re-parsing every note")
	}

	entries := make([]engine.Entry, 0, len(metas))
	disk := make(map[string]struct{}, len(metas))
	parsed := 0
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		disk[m.Path] = struct{}{}

		if row, ok := rows[m.Path]; ok && !force && row.Checksum == m.Checksum {
			entries = append(entries, engine.Entry{Path: m.Path, Task: taskOf(row)})
			continue
		}

		data, err := ix.store.Read(m.Path)
		if err != nil {
			ix.logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		task, err := ix.indexFile(m.Path, data)
		if err != nil {
			ix.logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		parsed++
		ix.logger.Debug("sync: indexed", slog.String("path", m.Path))
		entries = append(entries, engine.Entry{Path: m.Path, Task: task})
	}

	// Remove stale entries.
	removed := 0
	for p := range rows {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := ix.db.DeleteNote(p); err != nil {
			ix.logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		removed++
		ix.logger.Debug("sync: removed stale", slog.String("path", p))
	}

	if err := ix.db.SetMeta(fieldsKey, fp); err != nil {
		return err
	}
	if err := ix.sink.Reindex(ctx, entries); err != nil {
		return err
	}
	ix.logger.Info("sync: done",
		slog.Int("notes", len(entries)),
		slog.Int("parsed", parsed),
		slog.Int("removed", removed),
		slog.Duration("took", time.Since(start)))
	return nil
}

// indexFile parses data, upserts it into the DB and returns its task view.
func (ix *Indexer) indexFile(path string, data []byte) (*models.Task, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	task := res.Task(path, ix.fields)
	row := NoteRow{
		Path:     path,
		Title:    res.Title,
		Checksum: storage.Checksum(data),
		Tags:     res.Tags,
		Task:     task,
	}
	if err := ix.db.UpsertNote(row, res.Body); err != nil {
		return nil, err
	}
	return task, nil
}

func fieldsFingerprint(f parser.FieldMap) (string, error) {
	h, err := hashstructure.Hash(f, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("index: fields fingerprint: %w", err)
	}
	return strconv.FormatUint(h, 16), nil
}
