// Package storage wraps S3-compatible object storage for call artifacts.
package storage

import (
	"context"
	"io"
)

// ObjectStore is the object storage surface the call pipeline uses.
type ObjectStore interface {
	// EnsureBucketExists creates the bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context, bucket string) error

	// Put stores an object under an exact key, replacing any previous version.
	Put(ctx context.Context, bucket, key, contentType string, reader io.Reader, size int64) error
}

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	IsMinIOEnabled() bool
}
