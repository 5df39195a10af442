package files

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("file not found")
var ErrInvalidUploadID = errors.New("invalid upload id")

// Storage defines the interface for blob storage of assembled files.
// Save must publish atomically: a partially-written blob is never visible
// to a concurrent Load.
type Storage interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Load(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}
