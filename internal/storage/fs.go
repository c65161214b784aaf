package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
)

const tmpPrefix = ".raido-tmp-"

// FS is a Provider confined to one directory through os.Root, so no path can
// resolve outside the vault, symlinks included.
type FS struct {
	dir  string
	root *os.Root
	mu   sync.Mutex // serialises Replace against other writes from this process
}

// NewFS opens the vault at dir, which must already exist.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: open root: %w", err)
	}
	return &FS{dir: abs, root: root}, nil
}

// Close releases the vault handle.
func (f *FS) Close() error { return f.root.Close() }

// Dir returns the absolute vault directory.
func (f *FS) Dir() string { return f.dir }

// rel validates a slash path and returns it in fs.FS form.
func rel(p string) (string, error) {
	if p == "" {
		return ".", nil
	}
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", fmt.Errorf("storage: absolute path %q: %w", p, apperr.ErrInvalidInput)
	}
	clean := path.Clean(filepath.ToSlash(p))
	if !fs.ValidPath(clean) {
		return "", fmt.Errorf("storage: path %q escapes the vault: %w", p, apperr.ErrInvalidInput)
	}
	return clean, nil
}

func (f *FS) List(dir string) ([]models.NoteMetadata, error) {
	base, err := rel(dir)
	if err != nil {
		return nil, err
	}
	fsys := f.root.FS()
	var out []models.NoteMetadata
	err = fs.WalkDir(fsys, base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != base && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		out = append(out, models.NoteMetadata{
			Path:      p,
			Checksum:  Checksum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", base, err)
	}
	return out, nil
}

func (f *FS) Read(p string) ([]byte, error) {
	name, err := rel(p)
	if err != nil {
		return nil, err
	}
	data, err := f.root.ReadFile(filepath.FromSlash(name))
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

func (f *FS) Write(p string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(p, content)
}

func (f *FS) Replace(p string, content []byte, sum string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, err := f.Read(p)
	if err != nil {
		return err
	}
	if Checksum(current) != sum {
		return fmt.Errorf("storage: %s changed on disk: %w", p, apperr.ErrConflict)
	}
	return f.write(p, content)
}

// write stages content in a sibling temp file, syncs it and renames it over
// the target.
func (f *FS) write(p string, content []byte) error {
	name, err := rel(p)
	if err != nil {
		return err
	}
	if name == "." {
		return fmt.Errorf("storage: write to vault root: %w", apperr.ErrInvalidInput)
	}
	target := filepath.FromSlash(name)
	parent := filepath.Dir(target)
	if err := f.root.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", parent, err)
	}

	tmpName := filepath.Join(parent, tmpPrefix+uuid.NewString())
	tmp, err := f.root.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = f.root.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := f.root.Rename(tmpName, target); err != nil {
		return fmt.Errorf("storage: rename into %s: %w", p, err)
	}
	committed = true
	return nil
}
