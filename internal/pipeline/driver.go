package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"hlsmill/internal/domain/model"
	"hlsmill/internal/domain/repository"
	"hlsmill/internal/hls"
	"hlsmill/internal/jobstore"
	"hlsmill/internal/media"
)

// Publisher moves a finished HLS asset out of the work directory into durable
// storage and returns the playback URL of its master playlist. Unpublish
// removes whatever a publish attempt uploaded for the job.
type Publisher interface {
	Publish(ctx context.Context, jobID uuid.UUID, outputDir string) (string, error)
	Unpublish(ctx context.Context, jobID uuid.UUID) error
}

// ConvertRunner executes the convert stage. *Coordinator is the production
// implementation.
type ConvertRunner interface {
	Run(ctx context.Context, in CoordinatorInput, onProgress func(float64)) error
}

// Observer receives pipeline lifecycle events for instrumentation.
// Implementations must be fast and must not block.
type Observer interface {
	StageCompleted(stage string, elapsed time.Duration)
	JobFinished(status model.Status)
}

type noopObserver struct{}

func (noopObserver) StageCompleted(string, time.Duration) {}
func (noopObserver) JobFinished(model.Status)             {}

// DriverConfig holds configuration for the Driver.
type DriverConfig struct {
	// WorkDir is the parent directory for per-job scratch space.
	WorkDir string
	// CancelPollInterval is how often a running stage checks for cancellation.
	CancelPollInterval time.Duration
	// FallbackBandwidth is used in the master playlist when the source does
	// not report a video bitrate.
	FallbackBandwidth int
	// Codecs is the RFC 6381 codecs attribute advertised by the master
	// playlist. Output is always H.264 main profile with AAC-LC audio.
	Codecs string
}

// DefaultDriverConfig returns a DriverConfig with standard settings.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		WorkDir:            filepath.Join(os.TempDir(), "hlsmill"),
		CancelPollInterval: time.Second,
		FallbackBandwidth:  4_000_000,
		Codecs:             "avc1.4d401f,mp4a.40.2",
	}
}

// Driver walks one job through the full pipeline: analyze, download, probe,
// convert, finalize. It is the only component that advances job status; all
// state lives in the job store so the API always reads consistent snapshots.
type Driver struct {
	store     *jobstore.Store
	fetcher   media.Fetcher
	prober    media.Prober
	runner    ConvertRunner
	publisher Publisher
	archive   repository.JobArchive
	obs       Observer
	cfg       DriverConfig
}

// NewDriver creates a Driver. archive may be nil when no durable job archive
// is configured; obs may be nil when no instrumentation is wanted.
func NewDriver(
	cfg DriverConfig,
	store *jobstore.Store,
	fetcher media.Fetcher,
	prober media.Prober,
	runner ConvertRunner,
	publisher Publisher,
	archive repository.JobArchive,
	obs Observer,
) *Driver {
	if cfg.CancelPollInterval <= 0 {
		cfg.CancelPollInterval = DefaultDriverConfig().CancelPollInterval
	}
	if cfg.FallbackBandwidth <= 0 {
		cfg.FallbackBandwidth = DefaultDriverConfig().FallbackBandwidth
	}
	if cfg.Codecs == "" {
		cfg.Codecs = DefaultDriverConfig().Codecs
	}
	if obs == nil {
		obs = noopObserver{}
	}
	return &Driver{
		store:     store,
		fetcher:   fetcher,
		prober:    prober,
		runner:    runner,
		publisher: publisher,
		archive:   archive,
		obs:       obs,
		cfg:       cfg,
	}
}

// Process runs the job to a terminal state. It returns nil once the job has
// been resolved, whether ready, failed or cancelled; a non-nil return means
// the job could not be resolved (unknown job, or the process is shutting
// down) and the record was left as-is.
func (d *Driver) Process(ctx context.Context, jobID uuid.UUID) error {
	job, err := d.store.Get(jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		slog.Info("skipping terminal job", "job_id", jobID, "status", job.Status)
		return nil
	}

	ctx, stopWatch := d.watchCancellation(ctx, jobID)
	defer stopWatch()

	workDir := filepath.Join(d.cfg.WorkDir, jobID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		d.fail(jobID, fmt.Errorf("create work dir: %w", err))
		d.archiveJob(ctx, jobID)
		return nil
	}

	err = d.run(ctx, jobID, workDir)
	switch {
	case err == nil:
		d.cleanup(workDir)
		d.archiveJob(ctx, jobID)
		d.obs.JobFinished(model.StatusReady)
		return nil

	case errors.Is(err, model.ErrCancelled) || d.store.IsCancelled(jobID):
		d.store.Cancel(jobID)
		d.cleanup(workDir)
		d.unpublish(ctx, jobID)
		d.archiveJob(ctx, jobID)
		d.obs.JobFinished(model.StatusCancelled)
		slog.Info("job cancelled", "job_id", jobID)
		return nil

	case ctx.Err() != nil:
		// Shutdown, not a job outcome. Leave the record non-terminal for the
		// retention sweep; the scratch space is reclaimed either way.
		d.cleanup(workDir)
		return fmt.Errorf("job %s interrupted: %w", jobID, err)

	default:
		d.fail(jobID, err)
		d.cleanup(workDir)
		d.unpublish(ctx, jobID)
		d.archiveJob(ctx, jobID)
		d.obs.JobFinished(model.StatusError)
		return nil
	}
}

func (d *Driver) run(ctx context.Context, jobID uuid.UUID, workDir string) error {
	job, err := d.store.Get(jobID)
	if err != nil {
		return err
	}

	// Analyze: resolve remote metadata before committing to a download.
	start := time.Now()
	if err := d.setStatus(jobID, model.StatusAnalyzing); err != nil {
		return err
	}
	src, err := d.fetcher.Analyze(ctx, job.SourceURL)
	if err != nil {
		return err
	}
	analyzed := model.StatusAnalyzed
	if _, err := d.store.Update(jobID, jobstore.Update{
		Status: &analyzed,
		FileInfo: &jobstore.FileInfoUpdate{
			Name:        &src.Name,
			Size:        &src.Size,
			ContentType: &src.ContentType,
		},
	}); err != nil {
		return err
	}
	d.obs.StageCompleted("analyze", time.Since(start))

	if d.store.IsCancelled(jobID) {
		return model.ErrCancelled
	}

	// Download.
	start = time.Now()
	if err := d.setStatus(jobID, model.StatusDownloading); err != nil {
		return err
	}
	mediaPath := filepath.Join(workDir, "source"+filepath.Ext(src.Name))
	if _, err := d.fetcher.Fetch(ctx, job.SourceURL, mediaPath, func(p media.FetchProgress) {
		pct := p.Fraction * downloadProgressCeiling
		speed := media.FormatSpeed(p.BytesPerSecond)
		eta := media.FormatETA(p.ETASeconds)
		_, _ = d.store.Update(jobID, jobstore.Update{
			Progress: &pct,
			Speed:    &speed,
			ETA:      &eta,
		})
	}); err != nil {
		return err
	}
	downloaded := model.StatusDownloaded
	empty := ""
	if _, err := d.store.Update(jobID, jobstore.Update{
		Status: &downloaded,
		Speed:  &empty,
		ETA:    &empty,
	}); err != nil {
		return err
	}
	d.obs.StageCompleted("download", time.Since(start))

	if d.store.IsCancelled(jobID) {
		return model.ErrCancelled
	}

	// Probe the local file. The analyze stage only saw HTTP headers; stream
	// layout and duration come from here.
	start = time.Now()
	info, err := d.prober.Inspect(ctx, mediaPath)
	if err != nil {
		return err
	}
	video := info.VideoStreams[0]
	tracks := info.AudioTracks()
	if _, err := d.store.Update(jobID, jobstore.Update{
		FileInfo: &jobstore.FileInfoUpdate{
			Duration:    &info.Duration,
			Width:       &video.Width,
			Height:      &video.Height,
			AudioTracks: tracks,
		},
	}); err != nil {
		return err
	}
	d.obs.StageCompleted("probe", time.Since(start))

	// Convert.
	start = time.Now()
	if err := d.setStatus(jobID, model.StatusConverting); err != nil {
		return err
	}
	outputDir := filepath.Join(workDir, "hls")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := d.runner.Run(ctx, CoordinatorInput{
		MediaPath:         mediaPath,
		OutputDir:         outputDir,
		Duration:          info.Duration,
		SourceCodec:       video.Codec,
		SourcePixelFormat: video.PixelFormat,
		AudioTracks:       tracks,
		Cancelled:         func() bool { return d.store.IsCancelled(jobID) },
	}, func(pct float64) {
		_, _ = d.store.Update(jobID, jobstore.Update{Progress: &pct})
	}); err != nil {
		return err
	}
	d.obs.StageCompleted("convert", time.Since(start))

	// Finalize: master playlist, publish, flip to ready in one update.
	start = time.Now()
	master := hls.RenderMaster(hls.MasterParams{
		VideoURI:    hls.VideoPlaylistName,
		AudioTracks: tracks,
		Resolution:  fmt.Sprintf("%dx%d", video.Width, video.Height),
		Bandwidth:   d.bandwidthFor(video),
		Codecs:      d.cfg.Codecs,
	})
	if err := os.WriteFile(filepath.Join(outputDir, hls.MasterPlaylistName), []byte(master), 0o644); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}
	almostDone := 95.0
	_, _ = d.store.Update(jobID, jobstore.Update{Progress: &almostDone})

	playbackURL, err := d.publisher.Publish(ctx, jobID, outputDir)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	ready := model.StatusReady
	done := 100.0
	snap, err := d.store.Update(jobID, jobstore.Update{
		Status:      &ready,
		Progress:    &done,
		PlaybackURL: &playbackURL,
	})
	if err != nil {
		return err
	}
	if snap.Status != model.StatusReady {
		return model.ErrCancelled
	}
	d.obs.StageCompleted("finalize", time.Since(start))

	slog.Info("job ready",
		"job_id", jobID,
		"playback_url", playbackURL,
		"audio_tracks", len(tracks),
	)
	return nil
}

// setStatus transitions the job and confirms the transition took. A snapshot
// that comes back with a different status means the job went terminal
// underneath us, which is only ever a cancellation.
func (d *Driver) setStatus(jobID uuid.UUID, next model.Status) error {
	snap, err := d.store.Update(jobID, jobstore.Update{Status: &next})
	if err != nil {
		return err
	}
	if snap.Status != next {
		return model.ErrCancelled
	}
	return nil
}

func (d *Driver) fail(jobID uuid.UUID, cause error) {
	msg := cause.Error()
	st := model.StatusError
	if _, err := d.store.Update(jobID, jobstore.Update{Status: &st, Message: &msg}); err != nil {
		slog.Error("mark job failed", "job_id", jobID, "error", err)
	}
	slog.Error("job failed", "job_id", jobID, "error", cause)
}

// watchCancellation cancels the returned context once the job is cancelled in
// the store, so blocking stage work (HTTP transfer, ffmpeg) unwinds promptly
// instead of waiting for the next checkpoint.
func (d *Driver) watchCancellation(ctx context.Context, jobID uuid.UUID) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(d.cfg.CancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if d.store.IsCancelled(jobID) {
					cancel()
					return
				}
			}
		}
	}()

	return ctx, func() {
		cancel()
		<-done
	}
}

// archiveJob persists the terminal record, best effort. The in-memory store
// stays authoritative; the archive only matters after the retention sweep.
func (d *Driver) archiveJob(ctx context.Context, jobID uuid.UUID) {
	if d.archive == nil {
		return
	}
	job, err := d.store.Get(jobID)
	if err != nil {
		return
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.archive.Save(actx, &job); err != nil {
		slog.Warn("archive job", "job_id", jobID, "error", err)
	}
}

// unpublish removes artifacts a partial publish may have uploaded, best
// effort. A failed or cancelled job must not leave addressable output behind.
func (d *Driver) unpublish(ctx context.Context, jobID uuid.UUID) {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := d.publisher.Unpublish(uctx, jobID); err != nil {
		slog.Warn("remove published artifacts", "job_id", jobID, "error", err)
	}
}

func (d *Driver) cleanup(workDir string) {
	if err := os.RemoveAll(workDir); err != nil {
		slog.Warn("remove work dir", "dir", workDir, "error", err)
	}
}

func (d *Driver) bandwidthFor(v media.VideoStream) int {
	if v.BitRate > 0 {
		return int(v.BitRate)
	}
	return d.cfg.FallbackBandwidth
}
