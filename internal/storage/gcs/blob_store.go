// Package gcs archives scan reports in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

type writerFunc func(ctx context.Context, object, contentType string) io.WriteCloser

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	bucket    string
	newWriter writerFunc
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	bucket := client.Bucket(cfg.Bucket)
	return &BlobStore{
		bucket: cfg.Bucket,
		newWriter: func(ctx context.Context, object, contentType string) io.WriteCloser {
			w := bucket.Object(object).NewWriter(ctx)
			w.ContentType = contentType
			return w
		},
	}, nil
}

// PutObject uploads r to the bucket and returns a gs:// URI. The object is
// only committed when the writer closes cleanly.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.newWriter(ctx, path, contentType)
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
