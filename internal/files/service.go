package files

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"goldmarket/internal/logging"
	"goldmarket/internal/store"
)

// ChunkSize is the slice size clients are expected to honor for all but the
// last chunk. The server verifies completeness and order, not per-chunk size.
const ChunkSize = 990 * 1024

var (
	ErrUploadBusy     = errors.New("upload is being completed")
	ErrStagingMissing = errors.New("no staged chunks for upload id")
	ErrInvalidChunk   = errors.New("invalid chunk index")
	ErrNotOwner       = errors.New("not the file owner")
)

// MissingChunkError reports the first gap found when completing an upload.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing chunk %d", e.Index)
}

// Service handles chunked uploads and the lifecycle of published files.
// Chunks are staged on the local filesystem keyed by (upload id, index);
// completion assembles them in index order and publishes the result to
// blob storage as a whole.
type Service struct {
	storage    Storage
	stagingDir string
	db         *store.DB
	files      *store.Files

	mu         sync.Mutex
	completing map[string]bool
}

// NewService creates a new file service staging chunks under stagingDir.
func NewService(storage Storage, stagingDir string, db *store.DB, files *store.Files) (*Service, error) {
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, err
	}
	return &Service{
		storage:    storage,
		stagingDir: stagingDir,
		db:         db,
		files:      files,
		completing: make(map[string]bool),
	}, nil
}

func (s *Service) stagingPath(uploadID string) string {
	return filepath.Join(s.stagingDir, "temp_"+uploadID)
}

// generateStorageKey returns 128 bits from crypto/rand, hex encoded.
func generateStorageKey() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// ReceiveChunk stores one chunk payload for the upload. Chunks may arrive in
// any order and concurrently; re-uploading an index replaces the previous
// payload, so client retries are safe.
func (s *Service) ReceiveChunk(ctx context.Context, uploadID string, index, total int, data io.Reader) (int64, error) {
	if !ValidUploadID(uploadID) {
		return 0, ErrInvalidUploadID
	}
	if total <= 0 || index < 0 || index >= total {
		return 0, ErrInvalidChunk
	}

	dir := s.stagingPath(uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}

	// Write-then-rename so a retried chunk never leaves a torn payload
	// behind for the assembly pass.
	final := filepath.Join(dir, strconv.Itoa(index))
	tmp := final + ".tmp"
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
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// Meta is the caller-supplied metadata for a completed upload.
type Meta struct {
	Name        string
	Description string
	Price       int64
}

// Complete verifies every chunk in [0, total) is staged, assembles them in
// index order, publishes the result to blob storage, and inserts the file
// record. The staging area is removed on success. Only one Complete per
// upload id may be in flight; a concurrent call fails with ErrUploadBusy,
// and a call after success finds the staging area gone.
func (s *Service) Complete(ctx context.Context, uploadID string, ownerID uint64, total int, meta Meta) (*store.FileRecord, error) {
	if !ValidUploadID(uploadID) {
		return nil, ErrInvalidUploadID
	}
	if total <= 0 {
		return nil, ErrInvalidChunk
	}

	s.mu.Lock()
	if s.completing[uploadID] {
		s.mu.Unlock()
		return nil, ErrUploadBusy
	}
	s.completing[uploadID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.completing, uploadID)
		s.mu.Unlock()
	}()

	dir := s.stagingPath(uploadID)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, ErrStagingMissing
	}

	// Scan in index order so a gap is reported deterministically.
	for i := 0; i < total; i++ {
		if _, err := os.Stat(filepath.Join(dir, strconv.Itoa(i))); errors.Is(err, os.ErrNotExist) {
			return nil, &MissingChunkError{Index: i}
		} else if err != nil {
			return nil, err
		}
	}

	// The blob key is minted server-side. Upload ids are client-chosen and
	// reusable once the staging area is gone, so keying blobs by them would
	// let a reused id overwrite an earlier file's bytes.
	key, err := generateStorageKey()
	if err != nil {
		return nil, err
	}

	size, err := s.assemble(ctx, key, dir, total)
	if err != nil {
		return nil, err
	}

	record := &store.FileRecord{
		UploadID:    uploadID,
		OwnerID:     ownerID,
		Name:        meta.Name,
		Description: meta.Description,
		Price:       meta.Price,
		SizeBytes:   size,
		StorageKey:  key,
		CreatedAt:   time.Now(),
	}
	if _, err := s.files.Insert(ctx, record); err != nil {
		// Roll back the published blob so no orphan remains.
		s.storage.Delete(ctx, key)
		return nil, err
	}

	if err := os.RemoveAll(dir); err != nil {
		logging.Upload.Printf("failed to remove staging area for %s: %v", uploadID, err)
	}

	logging.Upload.Printf("assembled upload %s: file_id=%d, size=%d, chunks=%d", uploadID, record.ID, size, total)
	return record, nil
}

// assemble concatenates the staged chunks into a temporary artifact and
// publishes it whole under key. A failure partway leaves nothing visible to
// readers.
func (s *Service) assemble(ctx context.Context, key, dir string, total int) (int64, error) {
	tmpPath := filepath.Join(dir, "assembled.tmp")
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmpPath)

	var size int64
	for i := 0; i < total; i++ {
		chunk, err := os.Open(filepath.Join(dir, strconv.Itoa(i)))
		if err != nil {
			tmp.Close()
			return 0, err
		}
		n, err := io.Copy(tmp, chunk)
		chunk.Close()
		if err != nil {
			tmp.Close()
			return 0, err
		}
		size += n
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return 0, err
	}
	if _, err := s.storage.Save(ctx, key, tmp); err != nil {
		tmp.Close()
		return 0, err
	}
	return size, tmp.Close()
}

// Get returns the file record.
func (s *Service) Get(ctx context.Context, fileID uint64) (*store.FileRecord, error) {
	return s.files.Get(ctx, fileID)
}

// List returns all published files ordered by id.
func (s *Service) List(ctx context.Context) ([]*store.FileRecord, error) {
	return s.files.List(ctx)
}

// Open returns the file record and a reader over its assembled bytes.
func (s *Service) Open(ctx context.Context, fileID uint64) (*store.FileRecord, io.ReadCloser, error) {
	record, err := s.files.Get(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	reader, err := s.storage.Load(ctx, record.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return record, reader, nil
}

// IncrementDownloads bumps the file's download counter and returns the
// updated record.
func (s *Service) IncrementDownloads(ctx context.Context, fileID uint64) (*store.FileRecord, error) {
	return s.files.Mutate(ctx, fileID, func(f *store.FileRecord) error {
		f.DownloadCount++
		return nil
	})
}

// StatBlob verifies the assembled bytes still exist in storage.
func (s *Service) StatBlob(ctx context.Context, fileID uint64) error {
	record, err := s.files.Get(ctx, fileID)
	if err != nil {
		return err
	}
	_, err = s.storage.Stat(ctx, record.StorageKey)
	return err
}

// Delete removes a file record and its blob. Only the owner may delete.
func (s *Service) Delete(ctx context.Context, ownerID, fileID uint64) error {
	var storageKey string
	err := s.db.Update(ctx, func(tx *store.Tx) error {
		record, err := s.files.GetTx(tx, fileID)
		if err != nil {
			return err
		}
		if record.OwnerID != ownerID {
			return ErrNotOwner
		}
		storageKey = record.StorageKey
		return s.files.DeleteTx(tx, fileID)
	})
	if err != nil {
		return err
	}

	if err := s.storage.Delete(ctx, storageKey); err != nil && !errors.Is(err, ErrNotFound) {
		logging.Upload.Printf("failed to delete blob %s: %v", storageKey, err)
	}
	return nil
}

// SweepStaging removes staging areas that have been idle longer than maxAge.
// Abandoned uploads are never completed, so this is the only reclamation
// path for their chunks. Returns the number of areas removed.
func (s *Service) SweepStaging(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.stagingDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) < 6 || entry.Name()[:5] != "temp_" {
			continue
		}

		s.mu.Lock()
		busy := s.completing[entry.Name()[5:]]
		s.mu.Unlock()
		if busy {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(s.stagingDir, entry.Name())); err != nil {
				logging.Upload.Printf("failed to sweep staging area %s: %v", entry.Name(), err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}
