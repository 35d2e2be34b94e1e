package usecase

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"hlsmill/internal/domain/repository"
	"hlsmill/internal/hls"
)

// PublisherConfig holds configuration for the artifact publisher.
type PublisherConfig struct {
	// CDNBaseURL is the base URL fronting the bucket. When empty, playback
	// URLs are presigned against the storage endpoint instead.
	CDNBaseURL string
	// PresignExpiry is the validity window for presigned playback URLs.
	PresignExpiry time.Duration
}

// DefaultPublisherConfig returns the default configuration.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		PresignExpiry: 24 * time.Hour,
	}
}

// ArtifactPublisher uploads a finished HLS asset to object storage and
// resolves its playback URL. It implements the pipeline's Publisher interface.
type ArtifactPublisher struct {
	storage repository.ObjectStorage
	cfg     PublisherConfig
}

// NewArtifactPublisher creates a new ArtifactPublisher.
func NewArtifactPublisher(storage repository.ObjectStorage, cfg PublisherConfig) *ArtifactPublisher {
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = DefaultPublisherConfig().PresignExpiry
	}
	return &ArtifactPublisher{
		storage: storage,
		cfg:     cfg,
	}
}

// Publish uploads every file in outputDir under hls/{job_id}/ and returns the
// playback URL of the master playlist. The master playlist is uploaded last
// so a player never resolves a manifest whose media playlists are missing.
func (p *ArtifactPublisher) Publish(ctx context.Context, jobID uuid.UUID, outputDir string) (string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}

	prefix := p.outputKeyPrefix(jobID)
	var masterPath string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if entry.Name() == hls.MasterPlaylistName {
			masterPath = filepath.Join(outputDir, entry.Name())
			continue
		}
		localPath := filepath.Join(outputDir, entry.Name())
		if err := p.uploadFile(ctx, localPath, prefix+entry.Name()); err != nil {
			return "", fmt.Errorf("upload %s: %w", entry.Name(), err)
		}
	}

	if masterPath == "" {
		return "", fmt.Errorf("output dir %s has no %s", outputDir, hls.MasterPlaylistName)
	}

	masterKey := prefix + hls.MasterPlaylistName
	if err := p.uploadFile(ctx, masterPath, masterKey); err != nil {
		return "", fmt.Errorf("upload %s: %w", hls.MasterPlaylistName, err)
	}

	return p.playbackURL(ctx, jobID, masterKey)
}

// Unpublish removes every artifact of a job from storage: master, variant
// playlists and segments all live under the job's key prefix.
func (p *ArtifactPublisher) Unpublish(ctx context.Context, jobID uuid.UUID) error {
	return p.storage.DeletePrefix(ctx, p.outputKeyPrefix(jobID))
}

func (p *ArtifactPublisher) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := p.storage.Upload(ctx, key, file, contentTypeFor(localPath)); err != nil {
		return fmt.Errorf("storage upload: %w", err)
	}

	return nil
}

// playbackURL prefers the CDN; without one, the storage layer presigns a
// direct URL.
func (p *ArtifactPublisher) playbackURL(ctx context.Context, jobID uuid.UUID, masterKey string) (string, error) {
	if p.cfg.CDNBaseURL != "" {
		base := strings.TrimSuffix(p.cfg.CDNBaseURL, "/")
		return base + "/" + masterKey, nil
	}

	signed, err := p.storage.GeneratePresignedDownloadURL(ctx, masterKey, p.cfg.PresignExpiry)
	if err != nil {
		return "", fmt.Errorf("presign playback URL: %w", err)
	}
	return signed, nil
}

// outputKeyPrefix creates the storage key prefix for a job's HLS output.
// Format: hls/{job_id}/
func (p *ArtifactPublisher) outputKeyPrefix(jobID uuid.UUID) string {
	return path.Join("hls", jobID.String()) + "/"
}

func contentTypeFor(localPath string) string {
	switch filepath.Ext(localPath) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}
