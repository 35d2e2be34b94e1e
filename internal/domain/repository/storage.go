package repository

import (
	"context"
	"io"
	"time"
)

// ObjectStorage defines the interface for publishing HLS artifacts.
// Implementations should be provided by the infrastructure layer (e.g., MinIO, S3).
type ObjectStorage interface {
	// Upload stores an object in the storage.
	// key is the object path within the bucket (e.g., "hls/{job_id}/master.m3u8").
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Download retrieves an object from the storage.
	// Caller is responsible for closing the returned ReadCloser.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object from the storage.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object under the given key prefix. Used to
	// withdraw a job's whole artifact set in one call.
	DeletePrefix(ctx context.Context, prefix string) error

	// Exists checks if an object exists in the storage.
	Exists(ctx context.Context, key string) (bool, error)

	// GeneratePresignedDownloadURL creates a presigned URL for downloading an
	// object, valid for the specified duration. Used when no CDN fronts the
	// bucket.
	GeneratePresignedDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
