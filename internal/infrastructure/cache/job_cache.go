package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hlsmill/internal/domain/model"
)

// JobCache defines the interface for caching job snapshots.
// Implementations should handle serialization/deserialization transparently.
type JobCache interface {
	// Get retrieves a job snapshot from cache by ID.
	// Returns nil, nil if the job is not found in cache (cache miss).
	Get(ctx context.Context, jobID uuid.UUID) (*model.Job, error)

	// Set stores a job snapshot in cache with the specified TTL.
	Set(ctx context.Context, job *model.Job, ttl time.Duration) error

	// Delete removes a job snapshot from cache by ID.
	// Returns nil if the job was not in cache.
	Delete(ctx context.Context, jobID uuid.UUID) error
}
