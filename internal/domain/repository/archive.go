package repository

import (
	"context"

	"github.com/google/uuid"
	"hlsmill/internal/domain/model"
)

// JobArchive persists terminal job records beyond the in-memory store's
// retention window. Implementations should be provided by the infrastructure
// layer (e.g., PostgreSQL).
type JobArchive interface {
	// Save upserts a terminal job record.
	Save(ctx context.Context, job *model.Job) error

	// GetByID retrieves an archived job by its identifier.
	// Returns nil and ErrJobNotFound if the job was never archived.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error)
}
