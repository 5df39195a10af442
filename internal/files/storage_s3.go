package files

import (
	"context"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"goldmarket/internal/logging"
)

// S3Storage implements Storage using any S3-compatible object store.
type S3Storage struct {
	client *minio.Client
	bucket string
	prefix string
}

// S3Config holds configuration for S3 storage.
type S3Config struct {
	Endpoint string // S3_ENDPOINT
	KeyID    string // S3_KEY_ID
	AppKey   string // S3_APP_KEY
	Bucket   string // S3_BUCKET
	Prefix   string // S3_PREFIX - optional folder prefix for all objects
}

// NewS3Storage creates a new S3-backed storage.
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	logging.S3.Printf("initializing storage (bucket=%s, prefix=%s, endpoint=%s)", cfg.Bucket, cfg.Prefix, cfg.Endpoint)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.KeyID, cfg.AppKey, ""),
		Secure: true,
	})
	if err != nil {
		logging.S3.Printf("failed to create client: %v", err)
		return nil, err
	}

	logging.S3.Printf("storage initialized successfully")
	return &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Storage) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Save uploads the blob. Object stores publish a PutObject atomically, so a
// reader never observes a partial object.
func (s *S3Storage) Save(ctx context.Context, key string, data io.Reader) (int64, error) {
	obj := s.key(key)
	logging.S3.Printf("uploading %s to bucket %s", obj, s.bucket)

	info, err := s.client.PutObject(ctx, s.bucket, obj, data, -1, minio.PutObjectOptions{})
	if err != nil {
		logging.S3.Printf("upload failed for %s: %v", obj, err)
		return 0, err
	}

	logging.S3.Printf("uploaded %s successfully (%d bytes)", obj, info.Size)
	return info.Size, nil
}

func (s *S3Storage) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	obj := s.key(key)

	o, err := s.client.GetObject(ctx, s.bucket, obj, minio.GetObjectOptions{})
	if err != nil {
		logging.S3.Printf("failed to get object %s: %v", obj, err)
		return nil, err
	}

	// GetObject is lazy; stat to surface NoSuchKey now.
	if _, err := o.Stat(); err != nil {
		o.Close()
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		logging.S3.Printf("failed to stat object %s: %v", obj, err)
		return nil, err
	}

	return o, nil
}

func (s *S3Storage) Stat(ctx context.Context, key string) (int64, error) {
	obj := s.key(key)

	info, err := s.client.StatObject(ctx, s.bucket, obj, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return 0, ErrNotFound
		}
		logging.S3.Printf("failed to stat object %s: %v", obj, err)
		return 0, err
	}
	return info.Size, nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	obj := s.key(key)
	logging.S3.Printf("deleting %s from bucket %s", obj, s.bucket)

	err := s.client.RemoveObject(ctx, s.bucket, obj, minio.RemoveObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return ErrNotFound
		}
		logging.S3.Printf("failed to delete %s: %v", obj, err)
		return err
	}

	return nil
}
