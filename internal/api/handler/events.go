package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hlsmill/internal/domain/model"
)

const (
	eventKeepAliveInterval = 15 * time.Second

	// eventCloseGrace keeps the stream open briefly after the terminal event
	// before the connection is torn down.
	eventCloseGrace = 200 * time.Millisecond
)

// Events handles GET /v1/jobs/{id}/events
// It streams job snapshots as server-sent events. The stream always opens
// with the current snapshot and closes once a terminal snapshot was sent.
func (h *JobHandler) Events(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_job_id", "Job ID must be a valid UUID")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming_unsupported", "Response writer does not support streaming")
		return
	}

	// Resolve the job before committing to the event-stream content type so
	// an unknown ID still gets a proper 404.
	initial, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	// Subscribe before reading the snapshot that opens the stream. Updates
	// landing between the two are then delivered twice at worst, never lost.
	updates := make(chan model.Job, 16)
	unsubscribe := h.svc.SubscribeJob(jobID, func(j model.Job) {
		enqueueSnapshot(updates, j)
	})
	defer unsubscribe()

	if snap, err := h.svc.GetJob(r.Context(), jobID); err == nil {
		initial = snap
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeJobEvent(w, initial); err != nil {
		return
	}
	flusher.Flush()
	if initial.Status.IsTerminal() {
		waitCloseGrace(r.Context())
		return
	}

	keepAlive := time.NewTicker(eventKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case job := <-updates:
			if err := writeJobEvent(w, job); err != nil {
				return
			}
			flusher.Flush()
			if job.Status.IsTerminal() {
				waitCloseGrace(r.Context())
				return
			}
		}
	}
}

// enqueueSnapshot delivers j into updates without blocking the notifier.
// When the buffer is full the oldest pending snapshot is evicted so that the
// newest one always lands; every snapshot it displaces is superseded by it,
// and a terminal snapshot is never lost to a slow client.
func enqueueSnapshot(updates chan model.Job, j model.Job) {
	for {
		select {
		case updates <- j:
			return
		default:
		}
		select {
		case <-updates:
		default:
		}
	}
}

// waitCloseGrace holds the stream open for the close grace period, or less
// if the client goes away first.
func waitCloseGrace(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(eventCloseGrace):
	}
}

func writeJobEvent(w http.ResponseWriter, job model.Job) error {
	data, err := json.Marshal(toJobResponse(job))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: job\ndata: %s\n\n", data)
	return err
}
