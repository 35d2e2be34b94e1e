package usecase

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"hlsmill/internal/domain/model"
	"hlsmill/internal/domain/repository"
)

// mockMessageQueue provides a configurable mock for MessageQueue.
type mockMessageQueue struct {
	publishConvertTaskFn  func(ctx context.Context, task repository.ConvertTask) error
	consumeConvertTasksFn func(ctx context.Context, handler func(task repository.ConvertTask) error) error
}

func (m *mockMessageQueue) PublishConvertTask(ctx context.Context, task repository.ConvertTask) error {
	if m.publishConvertTaskFn != nil {
		return m.publishConvertTaskFn(ctx, task)
	}
	return nil
}

func (m *mockMessageQueue) ConsumeConvertTasks(ctx context.Context, handler func(task repository.ConvertTask) error) error {
	if m.consumeConvertTasksFn != nil {
		return m.consumeConvertTasksFn(ctx, handler)
	}
	return nil
}

func (m *mockMessageQueue) Close() error {
	return nil
}

// mockJobArchive provides a configurable mock for JobArchive.
type mockJobArchive struct {
	saveFn    func(ctx context.Context, job *model.Job) error
	getByIDFn func(ctx context.Context, id uuid.UUID) (*model.Job, error)
}

func (m *mockJobArchive) Save(ctx context.Context, job *model.Job) error {
	if m.saveFn != nil {
		return m.saveFn(ctx, job)
	}
	return nil
}

func (m *mockJobArchive) GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrJobNotFound
}

// mockObjectStorage provides a configurable mock for ObjectStorage.
type mockObjectStorage struct {
	uploadFn                       func(ctx context.Context, key string, reader io.Reader, contentType string) error
	downloadFn                     func(ctx context.Context, key string) (io.ReadCloser, error)
	deleteFn                       func(ctx context.Context, key string) error
	deletePrefixFn                 func(ctx context.Context, prefix string) error
	existsFn                       func(ctx context.Context, key string) (bool, error)
	generatePresignedDownloadURLFn func(ctx context.Context, key string, expiry time.Duration) (string, error)
}

func (m *mockObjectStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, key, reader, contentType)
	}
	return nil
}

func (m *mockObjectStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if m.downloadFn != nil {
		return m.downloadFn(ctx, key)
	}
	return nil, nil
}

func (m *mockObjectStorage) Delete(ctx context.Context, key string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, key)
	}
	return nil
}

func (m *mockObjectStorage) DeletePrefix(ctx context.Context, prefix string) error {
	if m.deletePrefixFn != nil {
		return m.deletePrefixFn(ctx, prefix)
	}
	return nil
}

func (m *mockObjectStorage) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, key)
	}
	return false, nil
}

func (m *mockObjectStorage) GeneratePresignedDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if m.generatePresignedDownloadURLFn != nil {
		return m.generatePresignedDownloadURLFn(ctx, key, expiry)
	}
	return "http://example.com/download", nil
}

// mockJobCache provides a configurable mock for JobCache.
type mockJobCache struct {
	getFn    func(ctx context.Context, jobID uuid.UUID) (*model.Job, error)
	setFn    func(ctx context.Context, job *model.Job, ttl time.Duration) error
	deleteFn func(ctx context.Context, jobID uuid.UUID) error
}

func (m *mockJobCache) Get(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	if m.getFn != nil {
		return m.getFn(ctx, jobID)
	}
	return nil, nil
}

func (m *mockJobCache) Set(ctx context.Context, job *model.Job, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, job, ttl)
	}
	return nil
}

func (m *mockJobCache) Delete(ctx context.Context, jobID uuid.UUID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, jobID)
	}
	return nil
}

// mockJobService provides a configurable mock for JobService.
type mockJobService struct {
	createJobFn    func(ctx context.Context, sourceURL string) (model.Job, error)
	getJobFn       func(ctx context.Context, jobID uuid.UUID) (model.Job, error)
	cancelJobFn    func(ctx context.Context, jobID uuid.UUID) (model.Job, error)
	subscribeJobFn func(jobID uuid.UUID, fn func(model.Job)) func()
}

func (m *mockJobService) CreateJob(ctx context.Context, sourceURL string) (model.Job, error) {
	if m.createJobFn != nil {
		return m.createJobFn(ctx, sourceURL)
	}
	return model.Job{}, nil
}

func (m *mockJobService) GetJob(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	if m.getJobFn != nil {
		return m.getJobFn(ctx, jobID)
	}
	return model.Job{}, nil
}

func (m *mockJobService) CancelJob(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	if m.cancelJobFn != nil {
		return m.cancelJobFn(ctx, jobID)
	}
	return model.Job{}, nil
}

func (m *mockJobService) SubscribeJob(jobID uuid.UUID, fn func(model.Job)) func() {
	if m.subscribeJobFn != nil {
		return m.subscribeJobFn(jobID, fn)
	}
	return func() {}
}
