package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"hlsmill/internal/domain/model"
	"hlsmill/internal/jobstore"
	"hlsmill/internal/media"
)

type fakeFetcher struct {
	analyzeFn func(ctx context.Context, sourceURL string) (*media.SourceInfo, error)
	fetchFn   func(ctx context.Context, sourceURL, destPath string, onProgress func(media.FetchProgress)) (int64, error)
}

func (f *fakeFetcher) Analyze(ctx context.Context, sourceURL string) (*media.SourceInfo, error) {
	if f.analyzeFn != nil {
		return f.analyzeFn(ctx, sourceURL)
	}
	return &media.SourceInfo{Name: "movie.mkv", Size: 1 << 20, ContentType: "video/x-matroska"}, nil
}

func (f *fakeFetcher) Fetch(ctx context.Context, sourceURL, destPath string, onProgress func(media.FetchProgress)) (int64, error) {
	if f.fetchFn != nil {
		return f.fetchFn(ctx, sourceURL, destPath, onProgress)
	}
	if onProgress != nil {
		onProgress(media.FetchProgress{Fraction: 0.5, BytesPerSecond: 2 << 20, ETASeconds: 10})
		onProgress(media.FetchProgress{Fraction: 1, BytesPerSecond: 2 << 20})
	}
	return 1 << 20, nil
}

type fakeProber struct {
	inspectFn func(ctx context.Context, filePath string) (*media.MediaInfo, error)
}

func (f *fakeProber) Inspect(ctx context.Context, filePath string) (*media.MediaInfo, error) {
	if f.inspectFn != nil {
		return f.inspectFn(ctx, filePath)
	}
	return &media.MediaInfo{
		Duration: 5400,
		VideoStreams: []media.VideoStream{
			{Codec: "h264", Width: 1920, Height: 1080, PixelFormat: "yuv420p", BitRate: 4_500_000},
		},
		AudioStreams: []media.AudioStream{
			{Language: "ja", Title: "Japanese"},
			{Language: "en"},
		},
	}, nil
}

type fakeRunner struct {
	runFn func(ctx context.Context, in CoordinatorInput, onProgress func(float64)) error
}

func (f *fakeRunner) Run(ctx context.Context, in CoordinatorInput, onProgress func(float64)) error {
	if f.runFn != nil {
		return f.runFn(ctx, in, onProgress)
	}
	if in.Cancelled != nil && in.Cancelled() {
		return model.ErrCancelled
	}
	if onProgress != nil {
		onProgress(45)
		onProgress(90)
	}
	return nil
}

type fakePublisher struct {
	publishFn   func(ctx context.Context, jobID uuid.UUID, outputDir string) (string, error)
	unpublishFn func(ctx context.Context, jobID uuid.UUID) error
	unpublished int
}

func (f *fakePublisher) Publish(ctx context.Context, jobID uuid.UUID, outputDir string) (string, error) {
	if f.publishFn != nil {
		return f.publishFn(ctx, jobID, outputDir)
	}
	return "https://cdn.example.com/hls/" + jobID.String() + "/master.m3u8", nil
}

func (f *fakePublisher) Unpublish(ctx context.Context, jobID uuid.UUID) error {
	f.unpublished++
	if f.unpublishFn != nil {
		return f.unpublishFn(ctx, jobID)
	}
	return nil
}

type fakeArchive struct {
	saveFn func(ctx context.Context, job *model.Job) error
	getFn  func(ctx context.Context, id uuid.UUID) (*model.Job, error)
	saved  []model.Job
}

func (f *fakeArchive) Save(ctx context.Context, job *model.Job) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, job)
	}
	f.saved = append(f.saved, *job)
	return nil
}

func (f *fakeArchive) GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return nil, nil
}

type driverFixture struct {
	store     *jobstore.Store
	fetcher   *fakeFetcher
	prober    *fakeProber
	runner    *fakeRunner
	publisher *fakePublisher
	archive   *fakeArchive
	driver    *Driver
}

func newDriverFixture(t *testing.T) *driverFixture {
	t.Helper()
	f := &driverFixture{
		store:     jobstore.NewStore(jobstore.DefaultConfig()),
		fetcher:   &fakeFetcher{},
		prober:    &fakeProber{},
		runner:    &fakeRunner{},
		publisher: &fakePublisher{},
		archive:   &fakeArchive{},
	}
	cfg := DefaultDriverConfig()
	cfg.WorkDir = t.TempDir()
	cfg.CancelPollInterval = 10 * time.Millisecond
	f.driver = NewDriver(cfg, f.store, f.fetcher, f.prober, f.runner, f.publisher, f.archive, nil)
	return f
}

func TestDriver_Process_HappyPath(t *testing.T) {
	f := newDriverFixture(t)
	job := f.store.Create("https://example.com/movie.mkv")

	var statuses []model.Status
	unsubscribe := f.store.Subscribe(job.ID, func(j model.Job) {
		if len(statuses) == 0 || statuses[len(statuses)-1] != j.Status {
			statuses = append(statuses, j.Status)
		}
	})
	defer unsubscribe()

	if err := f.driver.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	final, err := f.store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if final.Status != model.StatusReady {
		t.Fatalf("status: got %s, expected ready (message: %q)", final.Status, final.Message)
	}
	if final.Progress != 100 {
		t.Errorf("progress: got %f, expected 100", final.Progress)
	}
	if !strings.HasSuffix(final.PlaybackURL, "/master.m3u8") {
		t.Errorf("playback URL: got %q", final.PlaybackURL)
	}
	if final.Speed != "" || final.ETA != "" {
		t.Errorf("transfer hints should be cleared, got speed=%q eta=%q", final.Speed, final.ETA)
	}

	expected := []model.Status{
		model.StatusAnalyzing,
		model.StatusAnalyzed,
		model.StatusDownloading,
		model.StatusDownloaded,
		model.StatusConverting,
		model.StatusReady,
	}
	var observed []model.Status
	for _, s := range statuses {
		if len(observed) == 0 || observed[len(observed)-1] != s {
			observed = append(observed, s)
		}
	}
	if fmt.Sprint(observed) != fmt.Sprint(expected) {
		t.Errorf("status sequence:\n got      %v\n expected %v", observed, expected)
	}

	// Probed metadata merged into the record, tracks normalized.
	if final.FileInfo.Name != "movie.mkv" || final.FileInfo.Duration != 5400 {
		t.Errorf("file info mismatch: %+v", final.FileInfo)
	}
	if len(final.FileInfo.AudioTracks) != 2 {
		t.Fatalf("got %d audio tracks", len(final.FileInfo.AudioTracks))
	}
	if !final.FileInfo.AudioTracks[0].IsDefault || final.FileInfo.AudioTracks[1].IsDefault {
		t.Error("exactly the first track should be default")
	}
	if final.FileInfo.AudioTracks[1].Name != "Audio 2" {
		t.Errorf("untitled track name: got %q", final.FileInfo.AudioTracks[1].Name)
	}

	if len(f.archive.saved) != 1 || f.archive.saved[0].Status != model.StatusReady {
		t.Errorf("terminal record should be archived once, got %+v", f.archive.saved)
	}
	if f.publisher.unpublished != 0 {
		t.Error("a successful job must keep its published artifacts")
	}
}

// The exposed percentage never decreases across the whole run: the download
// stage reports into its band below the convert aggregate, and a convert
// sample lower than the download ceiling is held rather than shown.
func TestDriver_Process_ProgressNeverRegresses(t *testing.T) {
	f := newDriverFixture(t)
	job := f.store.Create("https://example.com/movie.mkv")

	f.runner.runFn = func(ctx context.Context, in CoordinatorInput, onProgress func(float64)) error {
		for _, pct := range []float64{10, 45, 90} {
			onProgress(pct)
		}
		return nil
	}

	var progress []float64
	unsubscribe := f.store.Subscribe(job.ID, func(j model.Job) {
		progress = append(progress, j.Progress)
	})
	defer unsubscribe()

	if err := f.driver.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	prev := 0.0
	for i, p := range progress {
		if p < prev {
			t.Fatalf("progress regressed at update %d: %v", i, progress)
		}
		prev = p
	}
	if prev != 100 {
		t.Errorf("final progress: got %f, expected 100", prev)
	}
}

func TestDriver_Process_WritesMasterPlaylist(t *testing.T) {
	f := newDriverFixture(t)
	job := f.store.Create("https://example.com/movie.mkv")

	var master string
	f.publisher.publishFn = func(ctx context.Context, jobID uuid.UUID, outputDir string) (string, error) {
		data, err := os.ReadFile(filepath.Join(outputDir, "master.m3u8"))
		if err != nil {
			return "", err
		}
		master = string(data)
		return "https://cdn.example.com/hls/" + jobID.String() + "/master.m3u8", nil
	}

	if err := f.driver.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	for _, want := range []string{
		"#EXTM3U",
		`LANGUAGE="ja",DEFAULT=YES`,
		`LANGUAGE="en",DEFAULT=NO`,
		"BANDWIDTH=4500000,RESOLUTION=1920x1080",
		`AUDIO="audio"`,
	} {
		if !strings.Contains(master, want) {
			t.Errorf("master playlist missing %q:\n%s", want, master)
		}
	}
}

func TestDriver_Process_CleansWorkDir(t *testing.T) {
	f := newDriverFixture(t)
	job := f.store.Create("https://example.com/movie.mkv")

	if err := f.driver.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	workDir := filepath.Join(f.driver.cfg.WorkDir, job.ID.String())
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Errorf("work dir should be removed, stat err: %v", err)
	}
}

func TestDriver_Process_FetchFailure(t *testing.T) {
	f := newDriverFixture(t)
	job := f.store.Create("https://example.com/movie.mkv")

	f.fetcher.fetchFn = func(ctx context.Context, sourceURL, destPath string, onProgress func(media.FetchProgress)) (int64, error) {
		return 0, fmt.Errorf("%w: connection reset", model.ErrFetchFailed)
	}

	if err := f.driver.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process should resolve the job, got %v", err)
	}

	final, _ := f.store.Get(job.ID)
	if final.Status != model.StatusError {
		t.Fatalf("status: got %s, expected error", final.Status)
	}
	if !strings.Contains(final.Message, "fetch failed") {
		t.Errorf("message: got %q", final.Message)
	}
	if len(f.archive.saved) != 1 || f.archive.saved[0].Status != model.StatusError {
		t.Error("failed job should be archived")
	}
}

func TestDriver_Process_ConvertFailure(t *testing.T) {
	f := newDriverFixture(t)
	job := f.store.Create("https://example.com/movie.mkv")

	f.runner.runFn = func(ctx context.Context, in CoordinatorInput, onProgress func(float64)) error {
		if onProgress != nil {
			onProgress(30)
		}
		return fmt.Errorf("%w: exit status 1", model.ErrEncodeFailed)
	}

	if err := f.driver.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process should resolve the job, got %v", err)
	}

	final, _ := f.store.Get(job.ID)
	if final.Status != model.StatusError {
		t.Fatalf("status: got %s, expected error", final.Status)
	}
	if !strings.Contains(final.Message, "encode failed") {
		t.Errorf("message: got %q", final.Message)
	}
	if final.PlaybackURL != "" {
		t.Error("failed job must not expose a playback URL")
	}

	workDir := filepath.Join(f.driver.cfg.WorkDir, job.ID.String())
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Error("work dir should be removed after failure")
	}
}

func TestDriver_Process_CancelledDuringDownload(t *testing.T) {
	f := newDriverFixture(t)
	job := f.store.Create("https://example.com/movie.mkv")

	f.fetcher.fetchFn = func(ctx context.Context, sourceURL, destPath string, onProgress func(media.FetchProgress)) (int64, error) {
		f.store.Cancel(job.ID)
		<-ctx.Done()
		return 0, fmt.Errorf("fetch stopped: %w", ctx.Err())
	}

	if err := f.driver.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process should resolve the job, got %v", err)
	}

	final, _ := f.store.Get(job.ID)
	if final.Status != model.StatusCancelled {
		t.Fatalf("status: got %s, expected cancelled", final.Status)
	}
	if final.Speed != "" || final.ETA != "" {
		t.Error("transfer hints should be cleared on cancellation")
	}
	if len(f.archive.saved) != 1 || f.archive.saved[0].Status != model.StatusCancelled {
		t.Error("cancelled job should be archived")
	}
	if f.publisher.unpublished != 1 {
		t.Error("published artifacts should be removed for a cancelled job")
	}
}

func TestDriver_Process_CancelledBetweenStages(t *testing.T) {
	f := newDriverFixture(t)
	job := f.store.Create("https://example.com/movie.mkv")

	var runnerCalled bool
	f.fetcher.fetchFn = func(ctx context.Context, sourceURL, destPath string, onProgress func(media.FetchProgress)) (int64, error) {
		// Cancellation lands after the download completes.
		f.store.Cancel(job.ID)
		return 1 << 20, nil
	}
	f.runner.runFn = func(ctx context.Context, in CoordinatorInput, onProgress func(float64)) error {
		runnerCalled = true
		return nil
	}

	if err := f.driver.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process should resolve the job, got %v", err)
	}

	final, _ := f.store.Get(job.ID)
	if final.Status != model.StatusCancelled {
		t.Fatalf("status: got %s, expected cancelled", final.Status)
	}
	if runnerCalled {
		t.Error("convert stage must not start after cancellation")
	}
}

func TestDriver_Process_PublishFailure(t *testing.T) {
	f := newDriverFixture(t)
	job := f.store.Create("https://example.com/movie.mkv")

	f.publisher.publishFn = func(ctx context.Context, jobID uuid.UUID, outputDir string) (string, error) {
		return "", errors.New("bucket unavailable")
	}

	if err := f.driver.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process should resolve the job, got %v", err)
	}

	final, _ := f.store.Get(job.ID)
	if final.Status != model.StatusError {
		t.Fatalf("status: got %s, expected error", final.Status)
	}
	if !strings.Contains(final.Message, "publish") {
		t.Errorf("message: got %q", final.Message)
	}
	if f.publisher.unpublished != 1 {
		t.Error("partially uploaded artifacts should be removed after a failed publish")
	}
}

func TestDriver_Process_UnknownJob(t *testing.T) {
	f := newDriverFixture(t)
	if err := f.driver.Process(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected an error for an unknown job")
	}
}

func TestDriver_Process_SkipsTerminalJob(t *testing.T) {
	f := newDriverFixture(t)
	job := f.store.Create("https://example.com/movie.mkv")
	f.store.Cancel(job.ID)

	var analyzed bool
	f.fetcher.analyzeFn = func(ctx context.Context, sourceURL string) (*media.SourceInfo, error) {
		analyzed = true
		return &media.SourceInfo{Name: "movie.mkv"}, nil
	}

	if err := f.driver.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if analyzed {
		t.Error("no stage should run for a terminal job")
	}
}
