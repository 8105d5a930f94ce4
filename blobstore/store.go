// Package blobstore wraps the MinIO client with the object operations the
// pipeline needs: prefix listing, file download/upload and deletion.
// Transient failures retry with exponential backoff.
package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Bucket names used by the pipeline.
const (
	BucketArchiveFiles      = "archive-files"
	BucketParseableFiles    = "parseable-files"
	BucketAggregatedResults = "aggregated-results"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Bucket string
	Key    string
	Size   int64
}

// Config holds the connection settings for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store is a MinIO-backed blob store.
type Store struct {
	client     *minio.Client
	maxRetries uint64
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries bounds retries per operation.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		s.maxRetries = uint64(n)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store connected to the configured MinIO endpoint.
func New(cfg Config, opts ...Option) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	s := &Store{
		client:     client,
		maxRetries: 3,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List returns all objects under the given prefix.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := s.retry(ctx, func() error {
		objects = objects[:0]
		for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				return obj.Err
			}
			objects = append(objects, ObjectInfo{
				Bucket: bucket,
				Key:    obj.Key,
				Size:   obj.Size,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}
	return objects, nil
}

// Download fetches an object to the given local path, creating parent
// directories as needed.
func (s *Store) Download(ctx context.Context, bucket, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	err := s.retry(ctx, func() error {
		return s.client.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Upload stores a local file under the given object key and returns the
// uploaded byte size.
func (s *Store) Upload(ctx context.Context, bucket, key, localPath, contentType string) (int64, error) {
	var size int64
	err := s.retry(ctx, func() error {
		info, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			return err
		}
		size = info.Size
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return size, nil
}

// Remove deletes an object. A missing object is not an error.
func (s *Store) Remove(ctx context.Context, bucket, key string) error {
	err := s.retry(ctx, func() error {
		err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries),
		ctx,
	)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err != nil && attempt > 1 {
			s.logger.Warn("Object store operation failed, retrying",
				"attempt", attempt,
				"error", err)
		}
		return err
	}, policy)
}
