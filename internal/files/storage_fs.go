package files

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

// validKeyPattern matches only alphanumeric keys (no path traversal possible)
var validKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// ValidUploadID reports whether an upload id is safe to use as a storage
// key and a staging directory name.
func ValidUploadID(id string) bool {
	return id != "" && len(id) <= 64 && validKeyPattern.MatchString(id)
}

// FSStorage implements Storage using the local filesystem.
type FSStorage struct {
	basePath string
}

// NewFSStorage creates a new filesystem-based storage.
func NewFSStorage(basePath string) (*FSStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, err
	}
	return &FSStorage{basePath: basePath}, nil
}

func (s *FSStorage) path(key string) string {
	return filepath.Join(s.basePath, key)
}

// Save writes the blob to a temporary file and renames it into place, so a
// reader either sees the whole blob or none of it.
func (s *FSStorage) Save(ctx context.Context, key string, data io.Reader) (int64, error) {
	if !ValidUploadID(key) {
		return 0, ErrInvalidUploadID
	}

	tmp := s.path(key) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, data)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, s.path(key)); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

func (s *FSStorage) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if !ValidUploadID(key) {
		return nil, ErrInvalidUploadID
	}
	f, err := os.Open(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *FSStorage) Stat(ctx context.Context, key string) (int64, error) {
	if !ValidUploadID(key) {
		return 0, ErrInvalidUploadID
	}
	info, err := os.Stat(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *FSStorage) Delete(ctx context.Context, key string) error {
	if !ValidUploadID(key) {
		return ErrInvalidUploadID
	}
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
