package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a conversion job.
type Status string

const (
	StatusCreated     Status = "created"
	StatusAnalyzing   Status = "analyzing"
	StatusAnalyzed    Status = "analyzed"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusConverting  Status = "converting"
	StatusReady       Status = "ready"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// Valid status transitions:
// created -> analyzing -> analyzed -> downloading -> downloaded -> converting -> ready
// Any non-terminal state may transition to error or cancelled.
var validTransitions = map[Status][]Status{
	StatusCreated:     {StatusAnalyzing, StatusError, StatusCancelled},
	StatusAnalyzing:   {StatusAnalyzed, StatusError, StatusCancelled},
	StatusAnalyzed:    {StatusDownloading, StatusError, StatusCancelled},
	StatusDownloading: {StatusDownloaded, StatusError, StatusCancelled},
	StatusDownloaded:  {StatusConverting, StatusError, StatusCancelled},
	StatusConverting:  {StatusReady, StatusError, StatusCancelled},
	StatusReady:       {},
	StatusError:       {},
	StatusCancelled:   {},
}

func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusReady, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) CanTransitionTo(next Status) bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == next {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// AudioTrack describes one audio stream of the source, in source order.
type AudioTrack struct {
	// Index is the 0-based position within the source's audio streams.
	Index int
	// Language is an ISO-ish language tag, "und" when the source carries none.
	Language string
	// Name is the display title shown to players.
	Name string
	// IsDefault marks the track players select initially. Exactly one track
	// in a list is default, conventionally index 0.
	IsDefault bool
}

// FileInfo holds source metadata, populated incrementally as stages complete.
// Once a field is set it is never unset.
type FileInfo struct {
	Name        string
	Size        int64
	ContentType string
	Duration    float64
	Width       int
	Height      int
	AudioTracks []AudioTrack
}

// Job is the unit of work: one remote source converted to one HLS asset.
type Job struct {
	ID        uuid.UUID
	SourceURL string
	Status    Status
	// Progress is a percentage in [0,100], non-decreasing within a stage.
	Progress float64
	FileInfo FileInfo
	// Speed and ETA are transfer-rate hints, present only while downloading.
	Speed string
	ETA   string
	// Message carries human-readable detail, set on error.
	Message string
	// PlaybackURL points at the published master manifest once ready.
	PlaybackURL string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var (
	ErrInvalidSourceURL  = errors.New("source URL must be a valid http or https URL")
	ErrInvalidTransition = errors.New("invalid status transition")

	// Pipeline stage failure kinds. Stage errors wrap one of these so the
	// driver can classify a failure without knowing which collaborator
	// produced it.
	ErrFetchFailed  = errors.New("fetch failed")
	ErrProbeFailed  = errors.New("probe failed")
	ErrEncodeFailed = errors.New("encode failed")

	// ErrCancelled marks a user-initiated stop. It is an outcome, not a
	// failure, and is never retried.
	ErrCancelled = errors.New("job cancelled")
)

// NewJob creates a Job in the created state with zero progress.
func NewJob(sourceURL string) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.New(),
		SourceURL: sourceURL,
		Status:    StatusCreated,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(next Status) error {
	if !next.IsValid() {
		return ErrInvalidTransition
	}
	if !j.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	j.Status = next
	j.UpdatedAt = time.Now()
	return nil
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// DefaultAudioTracks normalizes a probed track list: missing languages become
// "und", missing names become "Audio {index+1}", and exactly the first track
// is flagged default.
func DefaultAudioTracks(tracks []AudioTrack) []AudioTrack {
	out := make([]AudioTrack, len(tracks))
	for i, t := range tracks {
		if t.Language == "" {
			t.Language = "und"
		}
		if t.Name == "" {
			t.Name = defaultTrackName(i)
		}
		t.Index = i
		t.IsDefault = i == 0
		out[i] = t
	}
	return out
}

func defaultTrackName(index int) string {
	return fmt.Sprintf("Audio %d", index+1)
}
