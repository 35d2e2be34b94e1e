package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hlsmill/internal/domain/model"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

func cachedJob() *model.Job {
	return &model.Job{
		ID:        uuid.New(),
		SourceURL: "https://example.com/movie.mkv",
		Status:    model.StatusConverting,
		Progress:  42.5,
		Speed:     "2.1 MB/s",
		ETA:       "3m10s",
		FileInfo: model.FileInfo{
			Name:        "movie.mkv",
			Size:        1 << 30,
			ContentType: "video/x-matroska",
			Duration:    5400,
			Width:       1920,
			Height:      1080,
			AudioTracks: []model.AudioTrack{
				{Index: 0, Language: "ja", Name: "Japanese", IsDefault: true},
				{Index: 1, Language: "en", Name: "Audio 2"},
			},
		},
		CreatedAt: time.Now().Truncate(time.Microsecond),
		UpdatedAt: time.Now().Truncate(time.Microsecond),
	}
}

func TestRedisJobCache_Get_CacheHit(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisJobCache(client)
	ctx := context.Background()

	job := cachedJob()
	if err := cache.Set(ctx, job, 5*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := cache.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected job, got nil")
	}

	if got.ID != job.ID {
		t.Errorf("ID = %v, want %v", got.ID, job.ID)
	}
	if got.Status != job.Status {
		t.Errorf("Status = %v, want %v", got.Status, job.Status)
	}
	if got.Progress != job.Progress {
		t.Errorf("Progress = %v, want %v", got.Progress, job.Progress)
	}
	if got.Speed != job.Speed || got.ETA != job.ETA {
		t.Errorf("transfer hints = %q/%q, want %q/%q", got.Speed, got.ETA, job.Speed, job.ETA)
	}
	if got.FileInfo.Name != job.FileInfo.Name || got.FileInfo.Duration != job.FileInfo.Duration {
		t.Errorf("FileInfo = %+v, want %+v", got.FileInfo, job.FileInfo)
	}
	if len(got.FileInfo.AudioTracks) != 2 {
		t.Fatalf("got %d audio tracks, want 2", len(got.FileInfo.AudioTracks))
	}
	if got.FileInfo.AudioTracks[0] != job.FileInfo.AudioTracks[0] {
		t.Errorf("track 0 = %+v, want %+v", got.FileInfo.AudioTracks[0], job.FileInfo.AudioTracks[0])
	}
	if !got.CreatedAt.Equal(job.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, job.CreatedAt)
	}
}

func TestRedisJobCache_Get_CacheMiss(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisJobCache(client)

	got, err := cache.Get(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on cache miss, got %+v", got)
	}
}

func TestRedisJobCache_Set_TTLExpiry(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisJobCache(client)
	ctx := context.Background()

	job := cachedJob()
	if err := cache.Set(ctx, job, time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ttl, err := client.TTL(ctx, jobCacheKeyPrefix+job.ID.String()).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Second {
		t.Errorf("TTL = %v, want (0, 1s]", ttl)
	}
}

func TestRedisJobCache_Delete(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisJobCache(client)
	ctx := context.Background()

	job := cachedJob()
	if err := cache.Set(ctx, job, 5*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := cache.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := cache.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("expected cache miss after delete")
	}
}

func TestRedisJobCache_Delete_Missing(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisJobCache(client)

	if err := cache.Delete(context.Background(), uuid.New()); err != nil {
		t.Errorf("Delete of a missing key should not error, got %v", err)
	}
}
