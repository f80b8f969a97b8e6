// Package storage writes objects to the configured bucket backend. The
// mail outbox uses it to drop rendered messages where an external relay
// or an operator can pick them up.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/storefront/authserver/config"
)

// Supported bucket backends.
const (
	KindMinio = "minio"
	KindGCS   = "gcs"
)

// ObjectStorage is the subset of bucket operations the outbox needs.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Bucket() string
}

// Open connects to the bucket backend named by kind and makes sure the
// bucket exists.
func Open(ctx context.Context, kind string, cfg config.Config) (ObjectStorage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindMinio:
		backend, err = newMinio(cfg.Minio)
	case KindGCS:
		backend, err = newGCS(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported object storage %q", kind)
	}
	if err != nil {
		return nil, err
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return backend, nil
}

func newMinio(cfg config.MinioConfig) (ObjectStorage, error) {
	client, err := NewMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newGCS(ctx context.Context, cfg config.GCSConfig) (ObjectStorage, error) {
	client, err := NewGCSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}
