package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/storage"
)

// pendingRename is a note whose old path saw a Rename and whose new path has
// not shown up yet.
type pendingRename struct {
	checksum string
	at       time.Time
}

// Watch starts an fsnotify watcher on the vault root and turns file changes
// into engine events until ctx is cancelled.
//
// fsnotify reports a rename as Rename on the old path and, separately, Create
// on the new one. A Create whose content checksum matches a pending rename
// within the rename window becomes a single renamed event, so relationships
// and path holders follow the note. Unpaired renames become deletes once the
// window passes, followed by a reconciliation pass against the disk.
//
// New directories created at runtime are automatically added to the watch
// list.
func (ix *Indexer) Watch(ctx context.Context, vaultRoot string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	ix.logger.Info("watcher: started", slog.String("root", vaultRoot))

	pending := map[string]pendingRename{}
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	scheduleFlush := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(ix.renameWindow)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(ix.renameWindow)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			ix.logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			ix.flushRenames(pending)
			ix.reconcile()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name
			// Temp files of atomic writes and dot-directories.
			if strings.HasPrefix(filepath.Base(absPath), ".") {
				continue
			}
			rel, relErr := filepath.Rel(vaultRoot, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			// --- Handle new directories: add to watcher ---
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						ix.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						ix.logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					// Index any .md files already in the new directory.
					ix.indexNewDir(vaultRoot, absPath, pending)
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				// A directory moved away: its notes may reappear under
				// the new directory name.
				if ev.Op&fsnotify.Rename != 0 {
					ix.holdDir(rel, pending)
					scheduleFlush()
				}
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := ix.store.Read(rel)
				if readErr != nil {
					ix.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
					continue
				}
				ix.upsert(rel, data, ev.Op&fsnotify.Create != 0, pending)

			case ev.Op&fsnotify.Remove != 0:
				delete(pending, rel)
				ix.remove(rel)

			case ev.Op&fsnotify.Rename != 0:
				cs, csErr := ix.db.GetChecksum(rel)
				if csErr != nil || cs == "" {
					scheduleFlush()
					continue
				}
				pending[rel] = pendingRename{checksum: cs, at: time.Now()}
				ix.logger.Debug("watcher: rename pending", slog.String("path", rel))
				scheduleFlush()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			ix.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// upsert indexes one note and dispatches it. A created note whose checksum
// matches a pending rename is dispatched as that rename.
func (ix *Indexer) upsert(rel string, data []byte, created bool, pending map[string]pendingRename) {
	if created {
		if old, ok := takeRename(pending, storage.Checksum(data)); ok && old != rel {
			ix.rename(old, rel, data)
			return
		}
	}
	task, err := ix.indexFile(rel, data)
	if err != nil {
		ix.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	kind := engine.Modified
	if created {
		kind = engine.Created
	}
	ix.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", string(kind)))
	ix.dispatch(engine.Event{Kind: kind, Path: rel, Task: task})
}

func (ix *Indexer) rename(oldPath, newPath string, data []byte) {
	if err := ix.db.RenameNote(oldPath, newPath); err != nil {
		ix.logger.Warn("watcher: rename failed", slog.String("from", oldPath), slog.String("to", newPath), slog.String("error", err.Error()))
	}
	task, err := ix.indexFile(newPath, data)
	if err != nil {
		ix.logger.Warn("watcher: index failed", slog.String("path", newPath), slog.String("error", err.Error()))
		ix.remove(oldPath)
		return
	}
	ix.logger.Debug("watcher: renamed", slog.String("from", oldPath), slog.String("to", newPath))
	ix.dispatch(engine.Event{Kind: engine.Renamed, OldPath: oldPath, Path: newPath, Task: task})
}

func (ix *Indexer) remove(rel string) {
	if err := ix.db.DeleteNote(rel); err != nil {
		ix.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	ix.logger.Debug("watcher: deleted", slog.String("path", rel))
	ix.dispatch(engine.Event{Kind: engine.Deleted, Path: rel})
}

func (ix *Indexer) dispatch(ev engine.Event) {
	if err := ix.sink.Apply(ev); err != nil {
		ix.logger.Warn("watcher: apply failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("path", ev.Path),
			slog.String("error", err.Error()))
	}
}

// takeRename removes and returns the oldest pending rename with checksum cs.
func takeRename(pending map[string]pendingRename, cs string) (string, bool) {
	var best string
	var bestAt time.Time
	for p, r := range pending {
		if r.checksum != cs {
			continue
		}
		if best == "" || r.at.Before(bestAt) || (r.at.Equal(bestAt) && p < best) {
			best, bestAt = p, r.at
		}
	}
	if best == "" {
		return "", false
	}
	delete(pending, best)
	return best, true
}

// holdDir marks every indexed note under dir as a pending rename.
func (ix *Indexer) holdDir(dir string, pending map[string]pendingRename) {
	checksums, err := ix.db.AllChecksums()
	if err != nil {
		ix.logger.Warn("watcher: all checksums failed", slog.String("error", err.Error()))
		return
	}
	now := time.Now()
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for p, cs := range checksums {
		if strings.HasPrefix(p, prefix) {
			pending[p] = pendingRename{checksum: cs, at: now}
		}
	}
}

// flushRenames turns renames whose window passed without a matching Create
// into deletes. A note that is back at its old path is re-indexed instead.
func (ix *Indexer) flushRenames(pending map[string]pendingRename) {
	for p := range pending {
		delete(pending, p)
		data, err := ix.store.Read(p)
		if err == nil {
			ix.upsert(p, data, false, pending)
			continue
		}
		ix.remove(p)
	}
}

// reconcile does a lightweight sync using batch lookups:
// finds index entries without a corresponding file on disk and removes them,
// and finds on-disk files that are not indexed (or changed) and indexes them.
func (ix *Indexer) reconcile() {
	checksums, err := ix.db.AllChecksums()
	if err != nil {
		ix.logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	metas, err := ix.store.List("")
	if err != nil {
		ix.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			ix.remove(p)
		}
	}

	for p, cs := range disk {
		old, known := checksums[p]
		if known && old == cs {
			continue
		}
		data, readErr := ix.store.Read(p)
		if readErr != nil {
			continue
		}
		ix.logger.Debug("reconcile: indexing", slog.String("path", p))
		ix.upsert(p, data, !known, nil)
	}
}

// indexNewDir indexes any .md files found in a newly created directory.
func (ix *Indexer) indexNewDir(vaultRoot, dirPath string, pending map[string]pendingRename) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != dirPath && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(vaultRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		data, readErr := ix.store.Read(rel)
		if readErr != nil {
			return nil
		}
		ix.upsert(rel, data, true, pending)
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
// Dot-directories are skipped.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
