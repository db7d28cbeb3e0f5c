// Package storage persists uploaded import files and reads them back by
// opaque key. The pipeline only ever sees keys, never paths.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxFileSize is the maximum accepted upload size (20MB). Import files are
// read fully into memory, so this bounds per-job memory too.
const MaxFileSize = 20 * 1024 * 1024

// ErrNotFound is returned for keys that have no stored file.
var ErrNotFound = errors.New("stored file not found")

// ErrTooLarge is returned when an upload exceeds MaxFileSize.
var ErrTooLarge = errors.New("file exceeds size limit")

// Store is the object-storage boundary: write bytes, get a key back, read
// bytes by key.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (key string, err error)
	GetBytes(ctx context.Context, key string) ([]byte, error)
}

// LocalStore keeps files under a single directory, one file per key.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the backing directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Put stores data under a fresh key. The original name only contributes its
// extension; the key itself is random.
func (s *LocalStore) Put(_ context.Context, name string, data []byte) (string, error) {
	if int64(len(data)) > MaxFileSize {
		return "", ErrTooLarge
	}

	ext := filepath.Ext(name)
	if len(ext) > 10 {
		ext = ""
	}
	key := uuid.NewString() + ext

	if err := os.WriteFile(filepath.Join(s.dir, key), data, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return key, nil
}

// GetBytes reads a stored file back. Keys containing path separators are
// rejected so a key can never escape the storage directory.
func (s *LocalStore) GetBytes(_ context.Context, key string) ([]byte, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}
