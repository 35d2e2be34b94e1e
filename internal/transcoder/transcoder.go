package transcoder

import (
	"context"

	"hlsmill/internal/domain/model"
)

// VideoTaskSpec describes the single video encode task of a job.
type VideoTaskSpec struct {
	// InputPath is the absolute path to the fetched source file.
	InputPath string
	// OutputDir is the per-job directory receiving playlist and segments.
	OutputDir string
	// Duration of the source in seconds, used to map encoded time to percent.
	Duration float64
	// SourceCodec is the probed video codec name (e.g. "h264", "hevc").
	SourceCodec string
	// SourcePixelFormat is the probed pixel format (e.g. "yuv420p", "yuv420p10le").
	SourcePixelFormat string
}

// AudioTaskSpec describes one audio encode task.
type AudioTaskSpec struct {
	InputPath string
	OutputDir string
	Duration  float64
	// Track selects the source audio stream and names the output files.
	Track model.AudioTrack
}

// Transcoder runs one external encode process per task. Each task reports
// fractional progress in [0,100] through onProgress; reported values never
// decrease within a task. Implementations must honor ctx cancellation by
// stopping the external process.
type Transcoder interface {
	// RunVideoTask produces video.m3u8 plus segments in the output directory.
	RunVideoTask(ctx context.Context, spec VideoTaskSpec, onProgress func(float64)) error

	// RunAudioTask produces audio_<slug>.m3u8 plus segments for one track.
	RunAudioTask(ctx context.Context, spec AudioTaskSpec, onProgress func(float64)) error
}
