// Package storage writes opaque objects (analytics batches) to S3 or to a
// local directory, and loads the shared AWS configuration.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ObjectStore persists whole objects by key.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// FileStore writes objects under a directory, mirroring the key's path.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Put(_ context.Context, key string, body []byte, _ string) error {
	// Rooting the key before cleaning keeps it inside dir.
	path := filepath.Join(s.dir, filepath.Clean("/"+key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) String() string { return "file://" + s.dir }
