// Package testutil provides shared test helpers for setting up vaults, databases
// and a wired engine.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/parser"
	"github.com/starford/raido/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "raido-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return vaultDir, store
}

// WriteNote writes a note below root, creating directories as needed.
func WriteNote(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Env is a synced vault, snapshot and engine.
type Env struct {
	Root   string
	Store  *storage.FS
	DB     *index.DB
	Engine *engine.Engine
}

// TestEnv writes notes (path -> content) into a fresh vault and syncs them into
// an engine that writes back to the vault.
func TestEnv(t *testing.T, notes map[string]string) *Env {
	t.Helper()
	root, store := TestVault(t)
	for rel, content := range notes {
		WriteNote(t, root, rel, content)
	}
	db := TestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fields := parser.DefaultFields()
	eng := engine.New(
		engine.WithLogger(logger),
		engine.WithWriter(engine.NewVaultWriter(store, fields)),
	)
	if err := index.NewIndexer(db, store, fields, eng, logger).Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	return &Env{Root: root, Store: store, DB: db, Engine: eng}
}
