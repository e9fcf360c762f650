// Package export uploads memory exports to S3-compatible storage and hands
// out pre-signed download URLs. With no bucket configured the NoopUploader
// is used and every export fails with ErrNotConfigured.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/planlearn/internal/config"
)

// ErrNotConfigured is returned when export storage is not configured.
var ErrNotConfigured = errors.New("export storage not configured")

// Link is a pre-signed download location for an uploaded export.
type Link struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Uploader stores a user's export document.
type Uploader interface {
	// Upload encodes doc as JSON, stores it under the user's key and
	// returns a download link.
	Upload(ctx context.Context, userID string, doc any) (*Link, error)
}

// s3Client is the subset of minio.Client the uploader uses.
type s3Client interface {
	PutObject(ctx context.Context, bucket, objectName string, body io.Reader, size int64, contentType string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) PutObject(ctx context.Context, bucket, objectName string, body io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, objectName, body, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (m *minioClient) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return m.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// S3Uploader uploads exports with minio-go.
type S3Uploader struct {
	client    s3Client
	bucket    string
	urlExpiry time.Duration
	now       func() time.Time
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, userID string, doc any) (*Link, error) {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}

	key := ObjectKey(userID)
	if err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return nil, fmt.Errorf("upload export to S3: %w", err)
	}

	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, key, u.urlExpiry)
	if err != nil {
		return nil, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return &Link{Key: key, URL: presigned.String(), ExpiresAt: u.now().Add(u.urlExpiry)}, nil
}

// NoopUploader rejects every upload.
type NoopUploader struct{}

// Upload returns ErrNotConfigured.
func (NoopUploader) Upload(context.Context, string, any) (*Link, error) {
	return nil, ErrNotConfigured
}

// NewUploader returns a NoopUploader when no bucket is configured and an
// S3Uploader otherwise.
func NewUploader(cfg config.ExportConfig) (Uploader, error) {
	if !cfg.Enabled() {
		return NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client:    &minioClient{client: client},
		bucket:    cfg.Bucket,
		urlExpiry: time.Duration(cfg.URLExpiry),
		now:       time.Now,
	}, nil
}

// ObjectKey is the object name of a user's memory export.
func ObjectKey(userID string) string {
	return "memory/" + url.PathEscape(userID) + ".json"
}
