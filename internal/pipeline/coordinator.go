package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"hlsmill/internal/domain/model"
	"hlsmill/internal/transcoder"
)

// CoordinatorInput describes one job's convert stage.
type CoordinatorInput struct {
	// MediaPath is the fetched source file.
	MediaPath string
	// OutputDir receives all variant playlists and segments.
	OutputDir string
	// Duration of the source in seconds.
	Duration float64
	// SourceCodec and SourcePixelFormat drive the copy-vs-reencode decision.
	SourceCodec       string
	SourcePixelFormat string
	// AudioTracks is the ordered track list; one encode task per entry.
	AudioTracks []model.AudioTrack
	// Cancelled is polled at checkpoints. Nil means never cancelled.
	Cancelled func() bool
}

// Coordinator fans one video task and N audio tasks out against the
// Transcoder and folds their progress streams into a single monotonic
// job-level percentage.
type Coordinator struct {
	tc transcoder.Transcoder

	// cancelPollInterval bounds how stale a cancellation can go unnoticed
	// while no task is emitting progress.
	cancelPollInterval time.Duration
}

// NewCoordinator creates a Coordinator on top of the given Transcoder.
func NewCoordinator(tc transcoder.Transcoder) *Coordinator {
	return &Coordinator{
		tc:                 tc,
		cancelPollInterval: time.Second,
	}
}

// taskSample is one progress event from one task. Task 0 is video, tasks
// 1..N are the audio tracks in order.
type taskSample struct {
	task int
	pct  float64
}

// Run launches all encode tasks concurrently and blocks until every task has
// finished. It resolves successfully only when all tasks succeed; the first
// task failure cancels the remaining tasks and is returned as soon as the
// group unwinds (siblings are told to stop, not guaranteed stopped before the
// error surfaces). A cancellation observed before or during the run yields
// model.ErrCancelled instead of a task error.
//
// onProgress receives the aggregated percentage; the fan-in loop is the
// single writer, so callers never see concurrent invocations, and values
// never decrease even if individual task streams misbehave.
func (c *Coordinator) Run(ctx context.Context, in CoordinatorInput, onProgress func(float64)) error {
	cancelled := in.Cancelled
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	// Checkpoint before launching anything.
	if cancelled() {
		return model.ErrCancelled
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// Bounded fan-in channel: task callbacks block briefly under burst
	// instead of growing without bound, and give up once the group context
	// is gone.
	updates := make(chan taskSample, 64)
	send := func(task int) func(float64) {
		return func(pct float64) {
			select {
			case updates <- taskSample{task: task, pct: pct}:
			case <-gctx.Done():
			}
		}
	}

	g.Go(func() error {
		return c.tc.RunVideoTask(gctx, transcoder.VideoTaskSpec{
			InputPath:         in.MediaPath,
			OutputDir:         in.OutputDir,
			Duration:          in.Duration,
			SourceCodec:       in.SourceCodec,
			SourcePixelFormat: in.SourcePixelFormat,
		}, send(0))
	})

	for i, track := range in.AudioTracks {
		i, track := i, track
		g.Go(func() error {
			return c.tc.RunAudioTask(gctx, transcoder.AudioTaskSpec{
				InputPath: in.MediaPath,
				OutputDir: in.OutputDir,
				Duration:  in.Duration,
				Track:     track,
			}, send(i+1))
		})
	}

	// Fan-in loop: the only writer into the aggregate.
	fanDone := make(chan struct{})
	sawCancel := false
	go func() {
		defer close(fanDone)

		ticker := time.NewTicker(c.cancelPollInterval)
		defer ticker.Stop()

		video := 0.0
		audio := make([]float64, len(in.AudioTracks))
		last := 0.0

		for {
			select {
			case s, ok := <-updates:
				if !ok {
					return
				}
				// Discard any sample lower than the task's latest; the
				// transcoder already guarantees this per task, this is the
				// safety net.
				if s.task == 0 {
					if s.pct <= video {
						continue
					}
					video = s.pct
				} else {
					idx := s.task - 1
					if s.pct <= audio[idx] {
						continue
					}
					audio[idx] = s.pct
				}

				total := Aggregate(video, audio)
				if total > last && onProgress != nil {
					last = total
					onProgress(total)
				}

			case <-ticker.C:
				if !sawCancel && cancelled() {
					sawCancel = true
					cancel()
				}
			}
		}
	}()

	err := g.Wait()
	close(updates)
	<-fanDone

	if sawCancel || (err != nil && cancelled()) {
		return model.ErrCancelled
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
