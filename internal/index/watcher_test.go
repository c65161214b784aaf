package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/parser"
	"github.com/starford/raido/internal/storage"
)

// recordingSink forwards to a real engine and remembers every event.
type recordingSink struct {
	*engine.Engine
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Apply(ev engine.Event) error {
	s.mu.Lock()
	e := string(ev.Kind) + ":" + ev.Path
	if ev.OldPath != "" {
		e = string(ev.Kind) + ":" + ev.OldPath + "->" + ev.Path
	}
	s.events = append(s.events, e)
	s.mu.Unlock()
	return s.Engine.Apply(ev)
}

func (s *recordingSink) saw(want string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == want {
			return true
		}
	}
	return false
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// watcherTestEnv sets up a vault dir, an indexer and its engine sink.
func watcherTestEnv(t *testing.T) (string, *Indexer, *DB, *recordingSink) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	db := testDB(t)
	sink := &recordingSink{Engine: engine.New(engine.WithLogger(quietLogger()))}
	return vaultDir, NewIndexer(db, store, parser.DefaultFields(), sink, quietLogger()), db, sink
}

func startWatch(t *testing.T, ix *Indexer, root string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ix.Watch(ctx, root)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	vaultDir, ix, db, sink := watcherTestEnv(t)
	startWatch(t, ix, vaultDir)

	writeNote(t, vaultDir, "new.md", "---\ntags: [task]\n---\n# New")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("new.md")
		return cs != ""
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		_, err := sink.Task("new.md")
		return err == nil && sink.saw("created:new.md")
	}, "expected created:new.md in the engine")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	vaultDir, ix, db, _ := watcherTestEnv(t)
	startWatch(t, ix, vaultDir)

	subDir := filepath.Join(vaultDir, "subdir")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(100 * time.Millisecond)

	writeNote(t, vaultDir, "subdir/deep.md", "# Deep")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("subdir/deep.md")
		return cs != ""
	}, "file in new subdir not indexed by watcher")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	vaultDir, ix, db, sink := watcherTestEnv(t)
	writeNote(t, vaultDir, "del.md", "---\ntags: [task]\n---\n# Delete Me")
	if err := ix.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Task("del.md"); err != nil {
		t.Fatal("precondition: task should be in the engine")
	}

	startWatch(t, ix, vaultDir)
	_ = os.Remove(filepath.Join(vaultDir, "del.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("del.md")
		_, err := sink.Task("del.md")
		return cs == "" && err != nil
	}, "deleted file still indexed")
}

func TestWatcher_RenameIsOneEvent(t *testing.T) {
	vaultDir, ix, db, sink := watcherTestEnv(t)
	writeNote(t, vaultDir, "old.md", "---\ntags: [task]\n---\n# Rename")
	writeNote(t, vaultDir, "blocked.md", "---\ntags: [task]\nblockedBy: [\"[[old]]\"]\n---\n# Blocked")
	if err := ix.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := sink.Blockers("blocked.md"); len(got) != 1 || got[0] != "old.md" {
		t.Fatalf("precondition: blockers = %v", got)
	}

	startWatch(t, ix, vaultDir)
	_ = os.Rename(filepath.Join(vaultDir, "old.md"), filepath.Join(vaultDir, "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldCS, _ := db.GetChecksum("old.md")
		newCS, _ := db.GetChecksum("renamed.md")
		return oldCS == "" && newCS != ""
	}, "rename failed: old path should be removed and new path indexed")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return sink.saw("renamed:old.md->renamed.md")
	}, "expected a single renamed event")

	if got := sink.Blockers("blocked.md"); len(got) != 1 || got[0] != "renamed.md" {
		t.Errorf("blockers after rename = %v, want [renamed.md]", got)
	}
	if sink.saw("deleted:old.md") {
		t.Error("a paired rename must not be reported as a delete")
	}
}

func TestWatcher_MoveOutOfVaultDeletes(t *testing.T) {
	vaultDir, ix, db, sink := watcherTestEnv(t)
	writeNote(t, vaultDir, "gone.md", "---\ntags: [task]\n---\n# Gone")
	if err := ix.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	startWatch(t, ix, vaultDir)
	_ = os.Rename(filepath.Join(vaultDir, "gone.md"), filepath.Join(t.TempDir(), "gone.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("gone.md")
		return cs == "" && sink.saw("deleted:gone.md")
	}, "unpaired rename should become a delete")
}
