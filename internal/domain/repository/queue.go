package repository

import (
	"context"

	"github.com/google/uuid"
)

// ConvertTask is the message that hands a created job to a pipeline worker.
type ConvertTask struct {
	JobID     uuid.UUID `json:"job_id"`
	SourceURL string    `json:"source_url"`
}

// MessageQueue defines the interface for message queue operations.
// Implementations should be provided by the infrastructure layer (e.g., RabbitMQ).
type MessageQueue interface {
	// PublishConvertTask sends a conversion task to the queue.
	// Used by the accept path to trigger async pipeline processing.
	PublishConvertTask(ctx context.Context, task ConvertTask) error

	// ConsumeConvertTasks starts consuming conversion tasks from the queue.
	// The handler function is called for each received task; a handler error
	// rejects the message without requeueing (the pipeline is fail-fast,
	// stages are never retried).
	ConsumeConvertTasks(ctx context.Context, handler func(task ConvertTask) error) error

	// Close gracefully closes the connection to the message queue.
	Close() error
}
