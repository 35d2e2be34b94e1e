// Package jobstore owns job records and fans job updates out to subscribers.
// It is the single writer of job state: all other components read snapshots
// and request mutations through Update, never hold their own copy as source
// of truth.
package jobstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"hlsmill/internal/domain/model"
	"hlsmill/internal/domain/repository"
)

// Config holds configuration for the Store.
type Config struct {
	// Retention is how long a job record is kept after creation.
	Retention time.Duration
	// SweepInterval is how often expired jobs are pruned.
	SweepInterval time.Duration
}

// DefaultConfig returns a Config with the standard retention policy.
func DefaultConfig() Config {
	return Config{
		Retention:     24 * time.Hour,
		SweepInterval: time.Hour,
	}
}

// FileInfoUpdate carries partial FileInfo fields. Nil fields are left
// untouched; a set field is merged in and never unset by later updates.
type FileInfoUpdate struct {
	Name        *string
	Size        *int64
	ContentType *string
	Duration    *float64
	Width       *int
	Height      *int
	AudioTracks []model.AudioTrack
}

// Update carries partial job fields for a single mutation.
type Update struct {
	Status      *model.Status
	Progress    *float64
	Speed       *string
	ETA         *string
	Message     *string
	PlaybackURL *string
	FileInfo    *FileInfoUpdate
}

// Store is an in-memory job store with subscriber fan-out.
type Store struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*model.Job
	subs    map[uuid.UUID]map[uint64]func(model.Job)
	nextSub uint64

	cfg Config
	now func() time.Time
}

// NewStore creates an empty Store. Call Run to start the retention sweep.
func NewStore(cfg Config) *Store {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Store{
		jobs: make(map[uuid.UUID]*model.Job),
		subs: make(map[uuid.UUID]map[uint64]func(model.Job)),
		cfg:  cfg,
		now:  time.Now,
	}
}

// Create allocates a new job for the given source URL. It never fails.
func (s *Store) Create(sourceURL string) model.Job {
	job := model.NewJob(sourceURL)

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return snapshot(job)
}

// Get returns a snapshot of the job, or repository.ErrJobNotFound.
func (s *Store) Get(id uuid.UUID) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, repository.ErrJobNotFound
	}
	return snapshot(job), nil
}

// Update merges the given fields into the job, bumps UpdatedAt and notifies
// all current subscribers with the updated snapshot.
//
// Progress never decreases over the lifetime of a job: a lower value is
// dropped no matter what else the update carries, status transitions
// included, so a late callback from an earlier stage cannot pull the exposed
// percentage back. Updates against a terminal job are ignored entirely and
// return the unchanged snapshot, so a straggling fetch or encode callback can
// never resurrect a finished job.
func (s *Store) Update(id uuid.UUID, u Update) (model.Job, error) {
	s.mu.Lock()

	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return model.Job{}, repository.ErrJobNotFound
	}

	if job.IsTerminal() {
		snap := snapshot(job)
		s.mu.Unlock()
		return snap, nil
	}

	if u.Status != nil && *u.Status != job.Status {
		if !job.Status.CanTransitionTo(*u.Status) {
			s.mu.Unlock()
			return model.Job{}, model.ErrInvalidTransition
		}
		job.Status = *u.Status
	}

	if u.Progress != nil {
		if p := clampPercent(*u.Progress); p > job.Progress {
			job.Progress = p
		}
	}

	if u.Speed != nil {
		job.Speed = *u.Speed
	}
	if u.ETA != nil {
		job.ETA = *u.ETA
	}
	if u.Message != nil {
		job.Message = *u.Message
	}
	if u.PlaybackURL != nil {
		job.PlaybackURL = *u.PlaybackURL
	}
	if u.FileInfo != nil {
		mergeFileInfo(&job.FileInfo, u.FileInfo)
	}
	job.UpdatedAt = s.now()

	snap := snapshot(job)
	fns := s.subscribers(id)
	s.mu.Unlock()

	notify(fns, snap)
	return snap, nil
}

// Cancel marks the job cancelled and notifies subscribers. It is a no-op
// returning false when the job is unknown or already terminal.
func (s *Store) Cancel(id uuid.UUID) bool {
	s.mu.Lock()

	job, ok := s.jobs[id]
	if !ok || job.IsTerminal() {
		s.mu.Unlock()
		return false
	}

	job.Status = model.StatusCancelled
	job.Speed = ""
	job.ETA = ""
	job.UpdatedAt = s.now()

	snap := snapshot(job)
	fns := s.subscribers(id)
	s.mu.Unlock()

	notify(fns, snap)
	return true
}

// IsCancelled is the cheap cancellation poll used at pipeline checkpoints.
// A pruned job reads as cancelled so an orphaned pipeline stops doing work.
func (s *Store) IsCancelled(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return true
	}
	return job.Status == model.StatusCancelled
}

// Subscribe registers fn to receive every update of the given job. The
// returned function removes exactly this registration; calling it more than
// once is a safe no-op.
func (s *Store) Subscribe(id uuid.UUID, fn func(model.Job)) func() {
	s.mu.Lock()
	s.nextSub++
	token := s.nextSub
	if s.subs[id] == nil {
		s.subs[id] = make(map[uint64]func(model.Job))
	}
	s.subs[id][token] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.subs[id]; ok {
			delete(set, token)
			if len(set) == 0 {
				delete(s.subs, id)
			}
		}
	}
}

// Run sweeps expired jobs on the configured interval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep deletes jobs older than the retention window along with their
// subscriptions. Deleting a job with active subscribers is permitted; they
// simply stop receiving updates.
func (s *Store) sweep() {
	cutoff := s.now().Add(-s.cfg.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.subs, id)
			slog.Debug("pruned expired job", "job_id", id)
		}
	}
}

// subscribers returns the current callback list for id. Caller must hold mu.
func (s *Store) subscribers(id uuid.UUID) []func(model.Job) {
	set := s.subs[id]
	if len(set) == 0 {
		return nil
	}
	fns := make([]func(model.Job), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	return fns
}

// notify delivers the snapshot to each subscriber outside the store lock.
// A panicking subscriber must not take down the store or its siblings.
func notify(fns []func(model.Job), snap model.Job) {
	for _, fn := range fns {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("job subscriber panicked",
						"job_id", snap.ID,
						"panic", rec,
					)
				}
			}()
			fn(snap)
		}()
	}
}

func mergeFileInfo(dst *model.FileInfo, u *FileInfoUpdate) {
	if u.Name != nil {
		dst.Name = *u.Name
	}
	if u.Size != nil {
		dst.Size = *u.Size
	}
	if u.ContentType != nil {
		dst.ContentType = *u.ContentType
	}
	if u.Duration != nil {
		dst.Duration = *u.Duration
	}
	if u.Width != nil {
		dst.Width = *u.Width
	}
	if u.Height != nil {
		dst.Height = *u.Height
	}
	if u.AudioTracks != nil {
		dst.AudioTracks = append([]model.AudioTrack(nil), u.AudioTracks...)
	}
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// snapshot returns a value copy safe to hand outside the lock.
func snapshot(job *model.Job) model.Job {
	cp := *job
	cp.FileInfo.AudioTracks = append([]model.AudioTrack(nil), job.FileInfo.AudioTracks...)
	return cp
}
