package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"hlsmill/internal/domain/model"
	"hlsmill/internal/hls"
)

// FFmpegConfig holds configuration for the FFmpeg transcoder.
type FFmpegConfig struct {
	// FFmpegPath is the path to the ffmpeg binary.
	// If empty, "ffmpeg" will be used (assumes it's in PATH).
	FFmpegPath string

	// VideoPreset controls the encoding speed/quality tradeoff when re-encoding.
	// Default: fast
	VideoPreset string

	// VideoCRF is the constant rate factor when re-encoding.
	// Default: 23
	VideoCRF int

	// AudioBitrate is the target bitrate per audio track (e.g. "128k").
	// Default: 128k
	AudioBitrate string

	// HLSSegmentDuration is the target duration of each HLS segment in seconds.
	// Default: 6 (Apple recommended)
	HLSSegmentDuration int

	// HLSPlaylistType sets the playlist type.
	// Use "vod" for Video on Demand (adds EXT-X-ENDLIST tag).
	// Default: vod
	HLSPlaylistType string
}

// DefaultFFmpegConfig returns an FFmpegConfig with production-ready defaults.
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		FFmpegPath:         "ffmpeg",
		VideoPreset:        "fast",
		VideoCRF:           23,
		AudioBitrate:       "128k",
		HLSSegmentDuration: 6,
		HLSPlaylistType:    "vod",
	}
}

// copySafeVideoCodecs are the codecs HLS players decode reliably enough that
// repackaging the stream without re-encoding is safe.
var copySafeVideoCodecs = map[string]bool{
	"h264": true,
	"avc":  true,
	"avc1": true,
}

// eightBitPixelFormats are the pixel formats players accept as-is. Anything
// else (the 10-bit variants in particular) forces a re-encode to yuv420p.
var eightBitPixelFormats = map[string]bool{
	"yuv420p":  true,
	"yuvj420p": true,
	"nv12":     true,
}

// CanStreamCopy reports whether the source video stream can be repackaged
// into HLS segments without re-encoding. Copy is chosen only for the H.264
// family in an 8-bit pixel format; everything else is re-encoded to the
// compatibility profile because HLS player support is narrower than what
// arbitrary sources encode.
func CanStreamCopy(codec, pixelFormat string) bool {
	return copySafeVideoCodecs[strings.ToLower(codec)] &&
		eightBitPixelFormats[strings.ToLower(pixelFormat)]
}

// FFmpegTranscoder implements Transcoder using the FFmpeg CLI.
type FFmpegTranscoder struct {
	config FFmpegConfig
}

// Compile-time verification that FFmpegTranscoder implements Transcoder.
var _ Transcoder = (*FFmpegTranscoder)(nil)

// NewFFmpegTranscoder creates a new FFmpeg-based transcoder.
func NewFFmpegTranscoder(cfg FFmpegConfig) *FFmpegTranscoder {
	return &FFmpegTranscoder{config: cfg}
}

// RunVideoTask encodes (or stream-copies) the video stream to video.m3u8
// plus segments, reporting progress from FFmpeg's -progress output.
func (t *FFmpegTranscoder) RunVideoTask(ctx context.Context, spec VideoTaskSpec, onProgress func(float64)) error {
	args := t.buildVideoArgs(spec)
	return t.runTask(ctx, args, spec.Duration, onProgress)
}

// RunAudioTask encodes one audio stream to audio_<slug>.m3u8 plus segments.
func (t *FFmpegTranscoder) RunAudioTask(ctx context.Context, spec AudioTaskSpec, onProgress func(float64)) error {
	args := t.buildAudioArgs(spec)
	return t.runTask(ctx, args, spec.Duration, onProgress)
}

// buildVideoArgs constructs the FFmpeg arguments for the video task.
// The task maps only the first video stream; audio is carried by its own
// tasks so the video output stays a pure video variant.
func (t *FFmpegTranscoder) buildVideoArgs(spec VideoTaskSpec) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		// -progress is a global option and must precede inputs/outputs.
		"-progress", "pipe:1",
		"-i", spec.InputPath,
		"-map", "0:v:0",
		"-an",
	}

	if CanStreamCopy(spec.SourceCodec, spec.SourcePixelFormat) {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-profile:v", "main",
			"-preset", t.config.VideoPreset,
			"-crf", strconv.Itoa(t.config.VideoCRF),
			// Fixed keyframe interval aligned to segment boundaries.
			"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", t.config.HLSSegmentDuration),
			"-sc_threshold", "0",
		)
	}

	return append(args, t.hlsOutputArgs(
		spec.OutputDir, hls.VideoSegmentPattern, hls.VideoPlaylistName,
	)...)
}

// buildAudioArgs constructs the FFmpeg arguments for one audio task. Output
// filenames embed the shared language slug so the manifest URIs match.
func (t *FFmpegTranscoder) buildAudioArgs(spec AudioTaskSpec) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-progress", "pipe:1",
		"-i", spec.InputPath,
		"-map", fmt.Sprintf("0:a:%d", spec.Track.Index),
		"-vn",
		"-c:a", "aac",
		"-b:a", t.config.AudioBitrate,
		"-ac", "2",
	}

	return append(args, t.hlsOutputArgs(
		spec.OutputDir,
		hls.AudioSegmentPattern(spec.Track.Language),
		hls.AudioPlaylistName(spec.Track.Language),
	)...)
}

func (t *FFmpegTranscoder) hlsOutputArgs(outputDir, segmentPattern, playlistName string) []string {
	return []string{
		"-f", "hls",
		"-hls_time", strconv.Itoa(t.config.HLSSegmentDuration),
		"-hls_list_size", "0", // Include all segments in playlist
		"-hls_playlist_type", t.config.HLSPlaylistType,
		"-hls_segment_filename", filepath.Join(outputDir, segmentPattern),
		"-y",
		filepath.Join(outputDir, playlistName),
	}
}

// runTask executes one FFmpeg process and streams its progress output.
func (t *FFmpegTranscoder) runTask(ctx context.Context, args []string, duration float64, onProgress func(float64)) error {
	ffmpeg := t.config.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, ffmpeg, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", model.ErrEncodeFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %v", model.ErrEncodeFailed, err)
	}

	parseProgress(stdout, duration, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("transcode task stopped: %w", ctx.Err())
		}
		return fmt.Errorf("%w: ffmpeg: %v: %s", model.ErrEncodeFailed, err, lastLine(stderr.String()))
	}

	onProgress(100)
	return nil
}

// parseProgress reads FFmpeg -progress key=value output and reports the
// encoded media time as a percentage of the total duration. Samples lower
// than the last reported value are discarded, never reported, so each task's
// own progress stream is monotonic. Returns when r is exhausted (process exit).
func parseProgress(r io.Reader, duration float64, onProgress func(float64)) {
	if duration <= 0 {
		// Without a total duration there is nothing to map elapsed time
		// against; the task reports only its completion.
		_, _ = io.Copy(io.Discard, r)
		return
	}

	last := 0.0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "out_time_us=") {
			continue
		}
		us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64)
		if err != nil {
			continue
		}
		pct := float64(us) / 1e6 / duration * 100
		if pct > 100 {
			pct = 100
		}
		if pct <= last {
			continue
		}
		last = pct
		onProgress(pct)
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	return s
}
