// Package usecase contains the application services that sit between the
// HTTP layer and the pipeline.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"hlsmill/internal/domain/model"
	"hlsmill/internal/domain/repository"
	"hlsmill/internal/jobstore"
)

// JobService defines the interface for job business logic operations.
type JobService interface {
	// CreateJob validates the source URL, registers a new job and enqueues
	// its conversion task. The returned snapshot is in the created state.
	CreateJob(ctx context.Context, sourceURL string) (model.Job, error)

	// GetJob retrieves a job snapshot by ID. Jobs already pruned from the
	// in-memory store are looked up in the archive when one is configured.
	GetJob(ctx context.Context, jobID uuid.UUID) (model.Job, error)

	// CancelJob requests cancellation of a job. Cancelling a terminal job is
	// a no-op; the current snapshot is returned either way.
	CancelJob(ctx context.Context, jobID uuid.UUID) (model.Job, error)

	// SubscribeJob registers fn for every update of the job. The returned
	// function removes exactly this subscription.
	SubscribeJob(jobID uuid.UUID, fn func(model.Job)) func()
}

type jobService struct {
	store   *jobstore.Store
	queue   repository.MessageQueue
	archive repository.JobArchive
}

// NewJobService creates a new JobService instance. archive may be nil when no
// durable job archive is configured.
func NewJobService(store *jobstore.Store, queue repository.MessageQueue, archive repository.JobArchive) JobService {
	return &jobService{
		store:   store,
		queue:   queue,
		archive: archive,
	}
}

// CreateJob registers a job for the given source URL and hands it to a
// pipeline worker through the queue.
func (s *jobService) CreateJob(ctx context.Context, sourceURL string) (model.Job, error) {
	if err := validateSourceURL(sourceURL); err != nil {
		return model.Job{}, err
	}

	job := s.store.Create(sourceURL)

	task := repository.ConvertTask{
		JobID:     job.ID,
		SourceURL: sourceURL,
	}
	if err := s.queue.PublishConvertTask(ctx, task); err != nil {
		// The job exists but no worker will ever pick it up; resolve it now
		// rather than leaving a record stuck in created.
		st := model.StatusError
		msg := "failed to enqueue conversion task"
		if _, uerr := s.store.Update(job.ID, jobstore.Update{Status: &st, Message: &msg}); uerr != nil {
			slog.Error("mark unqueued job failed", "job_id", job.ID, "error", uerr)
		}
		return model.Job{}, fmt.Errorf("publish convert task: %w", err)
	}

	slog.Info("job accepted", "job_id", job.ID, "source_url", sourceURL)
	return job, nil
}

// GetJob retrieves a job snapshot, falling back to the archive for jobs the
// retention sweep has already pruned.
func (s *jobService) GetJob(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	job, err := s.store.Get(jobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, repository.ErrJobNotFound) || s.archive == nil {
		return model.Job{}, err
	}

	archived, err := s.archive.GetByID(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}
	return *archived, nil
}

// CancelJob flags the job for cancellation. The pipeline observes the flag at
// its next checkpoint; the snapshot returned here may still show an active
// stage briefly.
func (s *jobService) CancelJob(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	s.store.Cancel(jobID)
	return s.GetJob(ctx, jobID)
}

// SubscribeJob registers fn for job updates.
func (s *jobService) SubscribeJob(jobID uuid.UUID, fn func(model.Job)) func() {
	return s.store.Subscribe(jobID, fn)
}

// validateSourceURL accepts absolute http(s) URLs only.
func validateSourceURL(sourceURL string) error {
	parsed, err := url.Parse(sourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return model.ErrInvalidSourceURL
	}
	return nil
}
