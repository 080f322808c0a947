package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend keeps each document in its own file. Missing files are created
// empty on open; writes go through a temp file and a rename.
type FileBackend struct {
	paths map[string]string
}

// NewFileBackend maps document names to file paths.
func NewFileBackend(paths map[string]string) (*FileBackend, error) {
	for name, path := range paths {
		if path == "" {
			return nil, fmt.Errorf("no path configured for %s", name)
		}
		if err := touch(path); err != nil {
			return nil, fmt.Errorf("failed to create %s file: %w", name, err)
		}
	}
	return &FileBackend{paths: paths}, nil
}

func touch(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (b *FileBackend) path(name string) (string, error) {
	p, ok := b.paths[name]
	if !ok {
		return "", fmt.Errorf("unknown document %q", name)
	}
	return p, nil
}

// Get reads a document. An empty or missing file reads as ErrNotFound.
func (b *FileBackend) Get(_ context.Context, name string) ([]byte, error) {
	p, err := b.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

// Put replaces a document atomically.
func (b *FileBackend) Put(_ context.Context, name string, data []byte) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, p)
}

// Close is a no-op; files are not held open.
func (b *FileBackend) Close() error {
	return nil
}
