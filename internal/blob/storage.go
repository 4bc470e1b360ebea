// Package blob wraps the object store holding file payloads. The service
// talks to the Store interface; production uses MinIO/S3, tests and dev mode
// use the in-memory implementation.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store is the boundary the access controller consumes. Upload must be
// complete before metadata is written; Delete of an absent key succeeds.
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Options bound each call. Retries apply only to transient failures.
type Options struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// DefaultOptions keeps the retry budget small: one extra attempt with a short
// linear backoff. A slow upload is failed, not retried indefinitely.
func DefaultOptions() Options {
	return Options{
		Timeout: 30 * time.Second,
		Retries: 1,
		Backoff: 500 * time.Millisecond,
	}
}

// MinioConfig carries the connection settings for the object store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioStore implements Store against MinIO or any S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
	opts   Options
}

// NewMinioStore creates the client. It fails with ErrNotConfigured when the
// credentials are absent rather than producing a client that errors later.
func NewMinioStore(cfg MinioConfig, opts Options) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, region: cfg.Region, opts: opts}, nil
}

// EnsureBucket makes sure the content bucket exists before use.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classify(err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return classify(err)
		}
	}
	return nil
}

// Upload stores the payload under key. The reader must be seekable for the
// retry to work; the service stages uploads in a temp file, so it is.
func (s *MinioStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	seeker, _ := r.(io.Seeker)
	return s.withRetry(ctx, func(attempt context.Context) error {
		if seeker != nil {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind upload: %w", err)
			}
		}
		_, err := s.client.PutObject(attempt, s.bucket, key, r, size, minio.PutObjectOptions{
			ContentType: contentType,
		})
		return err
	})
}

// Fetch opens a stream for the object. Existence is verified up front because
// GetObject defers errors until the first read.
func (s *MinioStore) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	var out io.ReadCloser
	err := s.withRetry(ctx, func(attempt context.Context) error {
		obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		if _, err := obj.Stat(); err != nil {
			obj.Close()
			return err
		}
		out = obj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the object. A missing key counts as success so deletion
// races between requests and the reaper stay quiet.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.withRetry(ctx, func(attempt context.Context) error {
		return s.client.RemoveObject(attempt, s.bucket, key, minio.RemoveObjectOptions{})
	})
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		return err
	}
	return nil
}

// withRetry runs op with a per-attempt timeout and the configured budget.
func (s *MinioStore) withRetry(ctx context.Context, op func(context.Context) error) error {
	var last error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return classify(ctx.Err())
			case <-time.After(time.Duration(attempt) * s.opts.Backoff):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		last = classify(err)
		if !transient(last) {
			return last
		}
	}
	return last
}

var _ Store = (*MinioStore)(nil)
