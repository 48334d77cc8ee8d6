// Package s3 archives scan reports in Amazon S3 or an S3-compatible service.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config selects the bucket and, for MinIO and friends, a custom endpoint.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// BlobStore writes artifacts to an S3 bucket.
type BlobStore struct {
	client putObjectAPI
	bucket string
}

// New loads the default AWS credential chain and builds a BlobStore.
func New(ctx context.Context, cfg Config) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client putObjectAPI, bucket string) *BlobStore {
	return &BlobStore{client: client, bucket: bucket}
}

// PutObject uploads r and returns an s3:// URI. The body is buffered so the
// SDK can sign a seekable payload; reports are small.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	key := strings.TrimLeft(strings.TrimSpace(path), "/")
	if key == "" {
		return "", fmt.Errorf("path is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object body: %w", err)
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
