package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hlsmill/internal/domain/model"
	"hlsmill/internal/domain/repository"
	"hlsmill/internal/usecase"
)

// Request/Response types

type CreateJobRequest struct {
	SourceURL string `json:"source_url"`
}

type AudioTrackResponse struct {
	Index     int    `json:"index"`
	Language  string `json:"language"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

type FileInfoResponse struct {
	Name        string               `json:"name,omitempty"`
	Size        int64                `json:"size,omitempty"`
	ContentType string               `json:"content_type,omitempty"`
	Duration    float64              `json:"duration,omitempty"`
	Width       int                  `json:"width,omitempty"`
	Height      int                  `json:"height,omitempty"`
	AudioTracks []AudioTrackResponse `json:"audio_tracks,omitempty"`
}

type JobResponse struct {
	ID          string            `json:"id"`
	SourceURL   string            `json:"source_url"`
	Status      string            `json:"status"`
	Progress    float64           `json:"progress"`
	FileInfo    *FileInfoResponse `json:"file_info,omitempty"`
	Speed       string            `json:"speed,omitempty"`
	ETA         string            `json:"eta,omitempty"`
	Message     string            `json:"message,omitempty"`
	PlaybackURL string            `json:"playback_url,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// JobHandler handles job-related HTTP requests.
type JobHandler struct {
	svc usecase.JobService
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(svc usecase.JobService) *JobHandler {
	return &JobHandler{svc: svc}
}

// Create handles POST /v1/jobs
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if req.SourceURL == "" {
		Error(w, http.StatusBadRequest, "invalid_source_url", "Source URL is required")
		return
	}

	job, err := h.svc.CreateJob(r.Context(), req.SourceURL)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	JSON(w, http.StatusCreated, toJobResponse(job))
}

// Get handles GET /v1/jobs/{id}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_job_id", "Job ID must be a valid UUID")
		return
	}

	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	JSON(w, http.StatusOK, toJobResponse(job))
}

// Cancel handles POST /v1/jobs/{id}/cancel
// The pipeline stops at its next checkpoint, so the returned snapshot may
// still show an active stage.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_job_id", "Job ID must be a valid UUID")
		return
	}

	job, err := h.svc.CancelJob(r.Context(), jobID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	JSON(w, http.StatusAccepted, toJobResponse(job))
}

func (h *JobHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrJobNotFound):
		Error(w, http.StatusNotFound, "job_not_found", "Job not found")
	case errors.Is(err, model.ErrInvalidSourceURL):
		Error(w, http.StatusBadRequest, "invalid_source_url", "Source URL must be a valid http or https URL")
	default:
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func toJobResponse(j model.Job) JobResponse {
	return JobResponse{
		ID:          j.ID.String(),
		SourceURL:   j.SourceURL,
		Status:      j.Status.String(),
		Progress:    j.Progress,
		FileInfo:    toFileInfoResponse(j.FileInfo),
		Speed:       j.Speed,
		ETA:         j.ETA,
		Message:     j.Message,
		PlaybackURL: j.PlaybackURL,
		CreatedAt:   j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   j.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toFileInfoResponse(fi model.FileInfo) *FileInfoResponse {
	if fi.Name == "" && fi.Size == 0 && fi.Duration == 0 && len(fi.AudioTracks) == 0 {
		return nil
	}

	resp := &FileInfoResponse{
		Name:        fi.Name,
		Size:        fi.Size,
		ContentType: fi.ContentType,
		Duration:    fi.Duration,
		Width:       fi.Width,
		Height:      fi.Height,
	}
	for _, t := range fi.AudioTracks {
		resp.AudioTracks = append(resp.AudioTracks, AudioTrackResponse{
			Index:     t.Index,
			Language:  t.Language,
			Name:      t.Name,
			IsDefault: t.IsDefault,
		})
	}
	return resp
}
