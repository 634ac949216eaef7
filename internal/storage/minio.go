// Package storage provides object storage for raw document payloads. The
// ingest surface can reference an uploaded object by key instead of inlining
// multi-megabyte text in the request body.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/WillIsback/clea-api/internal/config"
)

// ObjectStorage defines the object operations the ingest path relies on.
type ObjectStorage interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)
	Exists(ctx context.Context, objectKey string) (bool, error)
	Delete(ctx context.Context, objectKey string) error
	PresignedUploadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)
}

// MinIOClient implements ObjectStorage against a MinIO or S3-compatible
// endpoint.
type MinIOClient struct {
	client     *minio.Client
	bucketName string
}

// Compile-time check that MinIOClient satisfies ObjectStorage.
var _ ObjectStorage = (*MinIOClient)(nil)

// NewMinIOClient connects to the configured endpoint and ensures the bucket
// exists.
func NewMinIOClient(cfg *config.Config) (*MinIOClient, error) {
	client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKeyID, cfg.MinIO.SecretAccessKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.MinIO.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinIO.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinIOClient{
		client:     client,
		bucketName: cfg.MinIO.BucketName,
	}, nil
}

// Upload stores an object under objectKey.
func (m *MinIOClient) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucketName, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", objectKey, err)
	}
	return nil
}

// Download opens the object at objectKey for reading. The caller closes it.
func (m *MinIOClient) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download object %s: %w", objectKey, err)
	}
	return obj, nil
}

// Exists reports whether an object is present under objectKey.
func (m *MinIOClient) Exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %s: %w", objectKey, err)
	}
	return true, nil
}

// Delete removes the object at objectKey.
func (m *MinIOClient) Delete(ctx context.Context, objectKey string) error {
	if err := m.client.RemoveObject(ctx, m.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", objectKey, err)
	}
	return nil
}

// PresignedUploadURL issues a time-limited direct upload URL for objectKey.
func (m *MinIOClient) PresignedUploadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	u, err := m.client.PresignedPutObject(ctx, m.bucketName, objectKey, expires)
	if err != nil {
		return "", fmt.Errorf("failed to generate upload URL: %w", err)
	}
	return u.String(), nil
}
