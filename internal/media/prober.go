// Package media wraps the external tools and transfers that feed the
// pipeline: source retrieval and stream inspection.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"hlsmill/internal/domain/model"
)

// VideoStream describes one probed video stream.
type VideoStream struct {
	Index       int
	Codec       string
	Width       int
	Height      int
	PixelFormat string
	BitRate     int64
}

// AudioStream describes one probed audio stream.
type AudioStream struct {
	Index    int
	Codec    string
	Language string
	Title    string
	Channels int
	BitRate  int64
}

// SubtitleStream describes one probed subtitle stream.
type SubtitleStream struct {
	Index    int
	Codec    string
	Language string
}

// MediaInfo is the full description of a local media file.
type MediaInfo struct {
	Duration        float64
	VideoStreams    []VideoStream
	AudioStreams    []AudioStream
	SubtitleStreams []SubtitleStream
}

// AudioTracks derives the job's audio track list from the probed audio
// streams, in stream order, with defaults applied.
func (m *MediaInfo) AudioTracks() []model.AudioTrack {
	tracks := make([]model.AudioTrack, len(m.AudioStreams))
	for i, s := range m.AudioStreams {
		tracks[i] = model.AudioTrack{
			Language: s.Language,
			Name:     s.Title,
		}
	}
	return model.DefaultAudioTracks(tracks)
}

// Prober inspects a local media file. Pure function of file contents.
type Prober interface {
	Inspect(ctx context.Context, filePath string) (*MediaInfo, error)
}

// FFprobeProber implements Prober using the ffprobe CLI.
type FFprobeProber struct {
	ffprobePath string
}

// Compile-time verification that FFprobeProber implements Prober.
var _ Prober = (*FFprobeProber)(nil)

// NewFFprobeProber creates an ffprobe-backed Prober.
// If path is empty, "ffprobe" will be used (assumes it's in PATH).
func NewFFprobeProber(path string) *FFprobeProber {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobeProber{ffprobePath: path}
}

// Inspect runs ffprobe against the file and parses its JSON output.
func (p *FFprobeProber) Inspect(ctx context.Context, filePath string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("probe stopped: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: ffprobe: %v", model.ErrProbeFailed, err)
	}

	return parseProbeOutput(output)
}

// ffprobe JSON shapes. Numeric fields arrive as strings.
type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeStream struct {
	Index     int               `json:"index"`
	CodecType string            `json:"codec_type"`
	CodecName string            `json:"codec_name"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	PixFmt    string            `json:"pix_fmt"`
	BitRate   string            `json:"bit_rate"`
	Channels  int               `json:"channels"`
	Tags      map[string]string `json:"tags"`
}

func parseProbeOutput(data []byte) (*MediaInfo, error) {
	var result probeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe output: %v", model.ErrProbeFailed, err)
	}

	info := &MediaInfo{}
	if result.Format.Duration != "" {
		d, err := strconv.ParseFloat(result.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parse duration %q: %v", model.ErrProbeFailed, result.Format.Duration, err)
		}
		info.Duration = d
	}

	for _, s := range result.Streams {
		switch s.CodecType {
		case "video":
			info.VideoStreams = append(info.VideoStreams, VideoStream{
				Index:       s.Index,
				Codec:       s.CodecName,
				Width:       s.Width,
				Height:      s.Height,
				PixelFormat: s.PixFmt,
				BitRate:     parseBitRate(s.BitRate),
			})
		case "audio":
			info.AudioStreams = append(info.AudioStreams, AudioStream{
				Index:    s.Index,
				Codec:    s.CodecName,
				Language: s.Tags["language"],
				Title:    s.Tags["title"],
				Channels: s.Channels,
				BitRate:  parseBitRate(s.BitRate),
			})
		case "subtitle":
			info.SubtitleStreams = append(info.SubtitleStreams, SubtitleStream{
				Index:    s.Index,
				Codec:    s.CodecName,
				Language: s.Tags["language"],
			})
		}
	}

	if len(info.VideoStreams) == 0 {
		return nil, fmt.Errorf("%w: no video stream found", model.ErrProbeFailed)
	}

	return info, nil
}

func parseBitRate(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
