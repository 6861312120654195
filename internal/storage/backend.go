package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by a Backend when a document has never been saved.
var ErrNotFound = errors.New("document not found")

// Backend persists whole JSON documents by key. Save must replace the
// document atomically: a reader sees either the old or the new body.
type Backend interface {
	Ensure(ctx context.Context) error
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Close() error
}

// Open returns the backend named kind rooted at root.
func Open(kind, root string) (Backend, error) {
	switch kind {
	case "", "fs":
		return NewFileBackend(root), nil
	case "sqlite":
		return OpenSQL(root)
	}
	return nil, fmt.Errorf("unknown storage backend %q", kind)
}

// FileBackend keeps each document as a file below the storage root.
type FileBackend struct {
	root string
}

// NewFileBackend returns a backend rooted at root. Nothing is created until
// the first write.
func NewFileBackend(root string) *FileBackend {
	return &FileBackend{root: root}
}

// Root returns the storage root directory.
func (b *FileBackend) Root() string {
	return b.root
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

// Ensure creates the storage root. It is safe to call repeatedly.
func (b *FileBackend) Ensure(ctx context.Context) error {
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return fmt.Errorf("failed to create storage root %s: %w", b.root, err)
	}
	return nil
}

// Load reads a document file.
func (b *FileBackend) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read document %s: %w", key, err)
	}
	return data, nil
}

// Save writes the document to a temporary file next to the target and
// renames it into place.
func (b *FileBackend) Save(ctx context.Context, key string, data []byte) error {
	target := b.path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(target)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync document %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close document %s: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to replace document %s: %w", key, err)
	}
	return nil
}

// Close is a no-op for files.
func (b *FileBackend) Close() error {
	return nil
}
