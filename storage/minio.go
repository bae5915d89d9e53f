// Package storage implements the object store for clip artifacts on top of
// any S3-compatible backend (MinIO, R2, S3) via the MinIO client.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options configures the S3 connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL, when set, is the base URL clips are served from (a CDN
	// or reverse proxy). Otherwise URLs point at the endpoint directly.
	PublicURL string
}

// Store is an S3-backed object store for clip videos and thumbnails.
type Store struct {
	client    *minio.Client
	bucket    string
	endpoint  string
	useSSL    bool
	publicURL string
}

// New connects to the S3 endpoint and ensures the bucket exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(cctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(cctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
		slog.Info("storage bucket created", slog.String("bucket", opts.Bucket), slog.String("component", "storage"))
	}

	slog.Info("object storage ready",
		slog.String("endpoint", opts.Endpoint),
		slog.String("bucket", opts.Bucket),
		slog.Bool("ssl", opts.UseSSL),
		slog.String("component", "storage"))
	return &Store{
		client:    client,
		bucket:    opts.Bucket,
		endpoint:  opts.Endpoint,
		useSSL:    opts.UseSSL,
		publicURL: strings.TrimSuffix(opts.PublicURL, "/"),
	}, nil
}

// Upload stores a local file under objectName and returns its public URL.
func (s *Store) Upload(ctx context.Context, localPath, objectName, contentType string) (string, error) {
	objectName = normalizeObjectName(objectName)
	_, err := s.client.FPutObject(ctx, s.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", objectName, err)
	}
	slog.Debug("object uploaded",
		slog.String("object", objectName),
		slog.String("content_type", contentType),
		slog.String("component", "storage"))
	return s.ObjectURL(objectName), nil
}

// Remove deletes an object. Missing objects are not an error.
func (s *Store) Remove(ctx context.Context, objectName string) error {
	objectName = normalizeObjectName(objectName)
	err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("remove %s: %w", objectName, err)
	}
	return nil
}

// ObjectURL builds the externally reachable URL for an object.
func (s *Store) ObjectURL(objectName string) string {
	objectName = normalizeObjectName(objectName)
	if s.publicURL != "" {
		return s.publicURL + "/" + objectName
	}
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, objectName)
}

func normalizeObjectName(name string) string {
	name = strings.TrimPrefix(name, "/")
	return strings.ReplaceAll(name, "\\", "/")
}
