package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"hlsmill/internal/domain/model"
	"hlsmill/internal/infrastructure/cache"
	"hlsmill/internal/infrastructure/metrics"
)

// CachedJobServiceConfig holds configuration for CachedJobService.
type CachedJobServiceConfig struct {
	// CacheTTL is the TTL for cached terminal job snapshots.
	CacheTTL time.Duration
}

// DefaultCachedJobServiceConfig returns the default configuration.
func DefaultCachedJobServiceConfig() CachedJobServiceConfig {
	return CachedJobServiceConfig{
		CacheTTL: 10 * time.Minute,
	}
}

// cachedJobService wraps JobService with caching capabilities.
// It implements the decorator pattern to add caching without modifying the
// original service. Only terminal snapshots are cached: they are immutable,
// while an active job's progress would go stale within a redis round-trip.
type cachedJobService struct {
	delegate JobService
	cache    cache.JobCache
	sfGroup  singleflight.Group

	cacheTTL time.Duration
}

// NewCachedJobService creates a new CachedJobService wrapping the provided JobService.
func NewCachedJobService(
	delegate JobService,
	jobCache cache.JobCache,
	cfg CachedJobServiceConfig,
) JobService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCachedJobServiceConfig().CacheTTL
	}
	return &cachedJobService{
		delegate: delegate,
		cache:    jobCache,
		cacheTTL: cfg.CacheTTL,
	}
}

// CreateJob delegates to the underlying service.
// No caching for create operations - the job is immediately returned.
func (s *cachedJobService) CreateJob(ctx context.Context, sourceURL string) (model.Job, error) {
	return s.delegate.CreateJob(ctx, sourceURL)
}

// GetJob retrieves a job snapshot with caching.
// Uses singleflight to prevent cache stampede on concurrent requests for the same job.
func (s *cachedJobService) GetJob(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	key := jobID.String()
	result, err, shared := s.sfGroup.Do(key, func() (any, error) {
		return s.getJobWithCache(ctx, jobID)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return model.Job{}, err
	}
	return result.(model.Job), nil
}

// getJobWithCache implements the cache-aside pattern for terminal jobs.
func (s *cachedJobService) getJobWithCache(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	cached, err := s.cache.Get(ctx, jobID)
	if err != nil {
		// Log cache error but continue to the store
		slog.Warn("cache get failed, falling back to store",
			"job_id", jobID,
			"error", err,
		)
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
	}

	if cached != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeRedis).Inc()
		return *cached, nil
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeRedis).Inc()

	job, err := s.delegate.GetJob(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}

	if job.Status.IsTerminal() {
		if err := s.cache.Set(ctx, &job, s.cacheTTL); err != nil {
			slog.Warn("failed to cache job",
				"job_id", jobID,
				"error", err,
			)
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusError, metrics.CacheTypeRedis).Inc()
		} else {
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeRedis).Inc()
		}
	}

	return job, nil
}

// CancelJob invalidates the cache and delegates to the underlying service.
// Invalidation happens first so a stale pre-cancel snapshot is never served
// after the cancellation was acknowledged.
func (s *cachedJobService) CancelJob(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	if err := s.cache.Delete(ctx, jobID); err != nil {
		// Log but don't fail - cache invalidation failure is non-critical
		slog.Warn("failed to invalidate cache on cancel",
			"job_id", jobID,
			"error", err,
		)
	}

	return s.delegate.CancelJob(ctx, jobID)
}

// SubscribeJob delegates to the underlying service; subscriptions always
// observe live store updates, never cached snapshots.
func (s *cachedJobService) SubscribeJob(jobID uuid.UUID, fn func(model.Job)) func() {
	return s.delegate.SubscribeJob(jobID, fn)
}
