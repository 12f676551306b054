package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// ObjectStore persists uploaded assets in an S3-compatible bucket and hands
// out URLs the browser can load directly.
type ObjectStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	presignTTL    time.Duration
}

// NewObjectStore initializes an ObjectStore. publicBaseURL is optional; when
// empty, presigned URLs are returned instead of public ones.
func NewObjectStore(client *minio.Client, bucket, publicBaseURL string) (*ObjectStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}
	return &ObjectStore{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		presignTTL:    24 * time.Hour,
	}, nil
}

// Upload stores the stream under a shop-scoped random key and returns the URL
// for it.
func (s *ObjectStore) Upload(ctx context.Context, shopDomain, filename, contentType string, reader io.Reader, size int64) (string, error) {
	key := objectKey(shopDomain, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: put object: %w", err)
	}
	return s.URLFor(ctx, key)
}

// URLFor returns a browser-loadable URL for an object key.
func (s *ObjectStore) URLFor(ctx context.Context, key string) (string, error) {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("storage: presign object: %w", err)
	}
	return presigned.String(), nil
}

func objectKey(shopDomain, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	shop := strings.TrimSpace(shopDomain)
	if shop == "" {
		shop = "unscoped"
	}
	return path.Join(shop, uuid.NewString()+ext)
}
