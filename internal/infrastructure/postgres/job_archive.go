package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"hlsmill/internal/domain/model"
	"hlsmill/internal/domain/repository"
)

// DBTX is an interface that abstracts pgxpool.Pool and pgx.Tx for testability.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// JobArchive implements repository.JobArchive using PostgreSQL. The archive
// outlives the in-memory store's retention window; records are written once
// per job, on reaching a terminal state.
type JobArchive struct {
	db DBTX
}

// NewJobArchive creates a new JobArchive instance.
func NewJobArchive(db DBTX) *JobArchive {
	return &JobArchive{db: db}
}

// archivedTrack is the JSONB shape of one audio track. Kept separate from the
// domain type so the stored format does not shift with domain refactors.
type archivedTrack struct {
	Index     int    `json:"index"`
	Language  string `json:"language"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Save upserts a job record. Re-archiving the same job overwrites the
// previous row, so a duplicate delivery is harmless.
func (a *JobArchive) Save(ctx context.Context, job *model.Job) error {
	const query = `
		INSERT INTO jobs (
			id, source_url, status, progress, message, playback_url,
			file_name, file_size, content_type, duration_seconds, width, height,
			audio_tracks, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			message = EXCLUDED.message,
			playback_url = EXCLUDED.playback_url,
			file_name = EXCLUDED.file_name,
			file_size = EXCLUDED.file_size,
			content_type = EXCLUDED.content_type,
			duration_seconds = EXCLUDED.duration_seconds,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			audio_tracks = EXCLUDED.audio_tracks,
			updated_at = EXCLUDED.updated_at
	`

	tracks, err := marshalTracks(job.FileInfo.AudioTracks)
	if err != nil {
		return err
	}

	_, err = a.db.Exec(ctx, query,
		job.ID,
		job.SourceURL,
		job.Status.String(),
		job.Progress,
		nullString(job.Message),
		nullString(job.PlaybackURL),
		nullString(job.FileInfo.Name),
		job.FileInfo.Size,
		nullString(job.FileInfo.ContentType),
		job.FileInfo.Duration,
		job.FileInfo.Width,
		job.FileInfo.Height,
		tracks,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive job: %w", err)
	}

	return nil
}

// GetByID retrieves an archived job by its identifier.
func (a *JobArchive) GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	const query = `
		SELECT id, source_url, status, progress, message, playback_url,
			file_name, file_size, content_type, duration_seconds, width, height,
			audio_tracks, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`

	job, err := scanJob(a.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get archived job: %w", err)
	}

	return job, nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		job         model.Job
		status      string
		message     *string
		playbackURL *string
		fileName    *string
		contentType *string
		tracks      []byte
	)

	err := row.Scan(
		&job.ID,
		&job.SourceURL,
		&status,
		&job.Progress,
		&message,
		&playbackURL,
		&fileName,
		&job.FileInfo.Size,
		&contentType,
		&job.FileInfo.Duration,
		&job.FileInfo.Width,
		&job.FileInfo.Height,
		&tracks,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = model.Status(status)
	if message != nil {
		job.Message = *message
	}
	if playbackURL != nil {
		job.PlaybackURL = *playbackURL
	}
	if fileName != nil {
		job.FileInfo.Name = *fileName
	}
	if contentType != nil {
		job.FileInfo.ContentType = *contentType
	}

	audioTracks, err := unmarshalTracks(tracks)
	if err != nil {
		return nil, err
	}
	job.FileInfo.AudioTracks = audioTracks

	return &job, nil
}

func marshalTracks(tracks []model.AudioTrack) ([]byte, error) {
	out := make([]archivedTrack, len(tracks))
	for i, t := range tracks {
		out[i] = archivedTrack{
			Index:     t.Index,
			Language:  t.Language,
			Name:      t.Name,
			IsDefault: t.IsDefault,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audio tracks: %w", err)
	}
	return data, nil
}

func unmarshalTracks(data []byte) ([]model.AudioTrack, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var stored []archivedTrack
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audio tracks: %w", err)
	}

	tracks := make([]model.AudioTrack, len(stored))
	for i, t := range stored {
		tracks[i] = model.AudioTrack{
			Index:     t.Index,
			Language:  t.Language,
			Name:      t.Name,
			IsDefault: t.IsDefault,
		}
	}
	return tracks, nil
}

// nullString returns nil for empty strings, otherwise returns a pointer to the string.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time verification that JobArchive implements repository.JobArchive.
var _ repository.JobArchive = (*JobArchive)(nil)
