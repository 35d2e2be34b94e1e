// Package storage keeps published HLS artifacts in a MinIO (S3 compatible)
// bucket. A job owns one key prefix; its playlists and segments live under
// that prefix and are withdrawn together.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"hlsmill/internal/domain/repository"
)

// objectReader is the part of *minio.Object the artifact store reads through.
// *minio.Object satisfies it.
type objectReader interface {
	io.ReadCloser
	Stat() (minio.ObjectInfo, error)
}

// minioAPI is the slice of the MinIO SDK the artifact store calls; tests
// substitute a mock here.
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// minioAdapter narrows *minio.Client to minioAPI. GetObject is wrapped so the
// interface returns objectReader rather than the concrete *minio.Object.
type minioAdapter struct {
	client *minio.Client
}

func (a *minioAdapter) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return a.client.BucketExists(ctx, bucketName)
}

func (a *minioAdapter) PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
	return a.client.PresignedGetObject(ctx, bucketName, objectName, expiry, reqParams)
}

func (a *minioAdapter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return a.client.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

func (a *minioAdapter) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
	return a.client.GetObject(ctx, bucketName, objectName, opts)
}

func (a *minioAdapter) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	return a.client.ListObjects(ctx, bucketName, opts)
}

func (a *minioAdapter) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return a.client.RemoveObject(ctx, bucketName, objectName, opts)
}

func (a *minioAdapter) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return a.client.StatObject(ctx, bucketName, objectName, opts)
}

// ClientConfig holds configuration for the artifact store.
type ClientConfig struct {
	Endpoint string
	// PublicEndpoint, when set, is the externally reachable endpoint that
	// presigned playback URLs are signed against.
	PublicEndpoint string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
}

// Client is the MinIO-backed artifact store implementing
// repository.ObjectStorage.
type Client struct {
	api          minioAPI
	presignedAPI minioAPI
	bucket       string
}

var _ repository.ObjectStorage = (*Client)(nil)

// NewClient connects to MinIO and verifies the artifact bucket exists, so a
// misconfigured deployment fails at startup rather than on the first publish.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	api := &minioAdapter{client: client}

	// Presigned URLs embed the endpoint they were signed against, so when an
	// external endpoint differs from the internal one a second client signs
	// them.
	var presignedAPI minioAPI = api
	if cfg.PublicEndpoint != "" {
		presignedClient, err := minio.New(cfg.PublicEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create presigning minio client: %w", err)
		}
		presignedAPI = &minioAdapter{client: presignedClient}
	}

	return newClientWithAPI(ctx, api, presignedAPI, cfg.Bucket)
}

// newClientWithAPI builds a Client over any minioAPI; tests inject mocks here.
func newClientWithAPI(ctx context.Context, api, presignedAPI minioAPI, bucket string) (*Client, error) {
	exists, err := api.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check artifact bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", repository.ErrBucketNotFound, bucket)
	}

	return &Client{
		api:          api,
		presignedAPI: presignedAPI,
		bucket:       bucket,
	}, nil
}

// GeneratePresignedDownloadURL signs a time-limited playback URL for one
// artifact. Used when no CDN fronts the bucket.
func (c *Client) GeneratePresignedDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	signed, err := c.presignedAPI.PresignedGetObject(ctx, c.bucket, key, expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("presign download URL: %w", err)
	}
	return signed.String(), nil
}

// Upload stores one artifact under the given key. Size is left unknown so
// playlists and segments stream without buffering.
func (c *Client) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	if _, err := c.api.PutObject(ctx, c.bucket, key, reader, -1, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return fmt.Errorf("upload artifact %s: %w", key, err)
	}
	return nil
}

// Download opens one artifact for reading. Caller closes the returned reader.
func (c *Client) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.api.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", key, err)
	}

	// GetObject hands back a lazy reader that only fails on first read; a
	// stat distinguishes a missing artifact up front.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, repository.ErrObjectNotFound
		}
		return nil, fmt.Errorf("stat artifact %s: %w", key, err)
	}

	return obj, nil
}

// Delete removes one artifact.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.api.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete artifact %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every artifact under the given key prefix, which is
// how a job's whole output (master, variant playlists, segments) is
// withdrawn. Listing and deleting are not atomic with respect to concurrent
// writers; the pipeline never writes under a prefix it is withdrawing.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	for obj := range c.api.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("list artifacts under %s: %w", prefix, obj.Err)
		}
		if err := c.api.RemoveObject(ctx, c.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("delete artifact %s: %w", obj.Key, err)
		}
	}
	return nil
}

// Exists reports whether an artifact is present under the given key.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := c.api.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat artifact %s: %w", key, err)
	}
	return true, nil
}

// Ping verifies the connection by checking access to the artifact bucket.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.BucketExists(ctx, c.bucket); err != nil {
		return fmt.Errorf("ping minio: %w", err)
	}
	return nil
}

// Bucket returns the configured artifact bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}
