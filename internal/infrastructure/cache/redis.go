// Package cache provides job snapshot caching backed by Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hlsmill/internal/domain/model"
)

const (
	// jobCacheKeyPrefix is the prefix for job cache keys in Redis.
	jobCacheKeyPrefix = "job:"
)

// jobJSON is the JSON representation of a Job for caching.
// Using explicit struct avoids coupling to domain model's JSON tags.
type jobJSON struct {
	ID          string          `json:"id"`
	SourceURL   string          `json:"source_url"`
	Status      string          `json:"status"`
	Progress    float64         `json:"progress"`
	Speed       string          `json:"speed,omitempty"`
	ETA         string          `json:"eta,omitempty"`
	Message     string          `json:"message,omitempty"`
	PlaybackURL string          `json:"playback_url,omitempty"`
	FileInfo    jobFileInfoJSON `json:"file_info"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

type jobFileInfoJSON struct {
	Name        string           `json:"name,omitempty"`
	Size        int64            `json:"size,omitempty"`
	ContentType string           `json:"content_type,omitempty"`
	Duration    float64          `json:"duration,omitempty"`
	Width       int              `json:"width,omitempty"`
	Height      int              `json:"height,omitempty"`
	AudioTracks []audioTrackJSON `json:"audio_tracks,omitempty"`
}

type audioTrackJSON struct {
	Index     int    `json:"index"`
	Language  string `json:"language"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// RedisJobCache implements JobCache using Redis as the backing store.
type RedisJobCache struct {
	client *redis.Client
}

// Compile-time verification that RedisJobCache implements JobCache.
var _ JobCache = (*RedisJobCache)(nil)

// NewRedisJobCache creates a new Redis-backed job cache.
func NewRedisJobCache(client *redis.Client) *RedisJobCache {
	return &RedisJobCache{
		client: client,
	}
}

// Get retrieves a job from Redis cache.
// Returns nil, nil on cache miss.
func (c *RedisJobCache) Get(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	key := c.buildKey(jobID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	job, err := c.deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize job: %w", err)
	}

	return job, nil
}

// Set stores a job in Redis cache with the specified TTL.
func (c *RedisJobCache) Set(ctx context.Context, job *model.Job, ttl time.Duration) error {
	key := c.buildKey(job.ID)

	data, err := c.serialize(job)
	if err != nil {
		return fmt.Errorf("serialize job: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a job from Redis cache.
func (c *RedisJobCache) Delete(ctx context.Context, jobID uuid.UUID) error {
	key := c.buildKey(jobID)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// buildKey constructs the Redis key for a job.
func (c *RedisJobCache) buildKey(jobID uuid.UUID) string {
	return jobCacheKeyPrefix + jobID.String()
}

// serialize converts a Job to JSON bytes.
func (c *RedisJobCache) serialize(job *model.Job) ([]byte, error) {
	tracks := make([]audioTrackJSON, len(job.FileInfo.AudioTracks))
	for i, t := range job.FileInfo.AudioTracks {
		tracks[i] = audioTrackJSON{
			Index:     t.Index,
			Language:  t.Language,
			Name:      t.Name,
			IsDefault: t.IsDefault,
		}
	}

	j := jobJSON{
		ID:          job.ID.String(),
		SourceURL:   job.SourceURL,
		Status:      string(job.Status),
		Progress:    job.Progress,
		Speed:       job.Speed,
		ETA:         job.ETA,
		Message:     job.Message,
		PlaybackURL: job.PlaybackURL,
		FileInfo: jobFileInfoJSON{
			Name:        job.FileInfo.Name,
			Size:        job.FileInfo.Size,
			ContentType: job.FileInfo.ContentType,
			Duration:    job.FileInfo.Duration,
			Width:       job.FileInfo.Width,
			Height:      job.FileInfo.Height,
			AudioTracks: tracks,
		},
		CreatedAt: job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339Nano),
	}
	return json.Marshal(j)
}

// deserialize converts JSON bytes to a Job.
func (c *RedisJobCache) deserialize(data []byte) (*model.Job, error) {
	var j jobJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(j.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, j.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, j.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	var tracks []model.AudioTrack
	if len(j.FileInfo.AudioTracks) > 0 {
		tracks = make([]model.AudioTrack, len(j.FileInfo.AudioTracks))
		for i, t := range j.FileInfo.AudioTracks {
			tracks[i] = model.AudioTrack{
				Index:     t.Index,
				Language:  t.Language,
				Name:      t.Name,
				IsDefault: t.IsDefault,
			}
		}
	}

	return &model.Job{
		ID:          id,
		SourceURL:   j.SourceURL,
		Status:      model.Status(j.Status),
		Progress:    j.Progress,
		Speed:       j.Speed,
		ETA:         j.ETA,
		Message:     j.Message,
		PlaybackURL: j.PlaybackURL,
		FileInfo: model.FileInfo{
			Name:        j.FileInfo.Name,
			Size:        j.FileInfo.Size,
			ContentType: j.FileInfo.ContentType,
			Duration:    j.FileInfo.Duration,
			Width:       j.FileInfo.Width,
			Height:      j.FileInfo.Height,
			AudioTracks: tracks,
		},
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}
