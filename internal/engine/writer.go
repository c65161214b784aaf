package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/parser"
	"github.com/starford/raido/internal/storage"
)

// VaultWriter persists task changes by rewriting the note's frontmatter. Only
// the properties that changed are touched.
type VaultWriter struct {
	store  storage.Provider
	fields parser.FieldMap
}

// NewVaultWriter returns a Writer over store using the given property names.
func NewVaultWriter(store storage.Provider, fields parser.FieldMap) *VaultWriter {
	return &VaultWriter{store: store, fields: fields.WithDefaults()}
}

// WriteTask implements Writer.
func (w *VaultWriter) WriteTask(ctx context.Context, before, after *models.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	updates := w.diff(before, after)
	if len(updates) == 0 {
		return nil
	}
	data, err := w.store.Read(after.Path)
	if err != nil {
		return err
	}
	out, err := parser.UpdateFrontmatter(data, updates)
	if err != nil {
		return fmt.Errorf("engine: %s: %w", after.Path, err)
	}
	return w.store.Replace(after.Path, out, storage.Checksum(data))
}

// diff maps changed task fields to frontmatter updates. A field cleared in
// after is removed from the note.
func (w *VaultWriter) diff(before, after *models.Task) map[string]any {
	updates := map[string]any{}
	str := func(name, a, b string) {
		if a == b {
			return
		}
		if b == "" {
			updates[name] = nil
			return
		}
		updates[name] = b
	}
	list := func(name string, a, b []string) {
		if slices.Equal(a, b) {
			return
		}
		if len(b) == 0 {
			updates[name] = []string{}
			return
		}
		updates[name] = b
	}
	str(w.fields.ID, before.ID, after.ID)
	str(w.fields.Status, before.Status, after.Status)
	str(w.fields.Scheduled, before.Scheduled, after.Scheduled)
	str(w.fields.Due, before.Due, after.Due)
	str(w.fields.CompletedDate, before.CompletedDate, after.CompletedDate)
	list(w.fields.CompleteInstances, before.CompleteInstances, after.CompleteInstances)
	list(w.fields.SkippedInstances, before.SkippedInstances, after.SkippedInstances)
	return updates
}
