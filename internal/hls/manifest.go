// Package hls renders HLS playlists and owns the naming rules shared between
// the transcoder output files and the manifests that reference them.
package hls

import (
	"fmt"
	"strings"

	"hlsmill/internal/domain/model"
)

const (
	// audioGroupID is the EXT-X-MEDIA group referenced by the video stream.
	audioGroupID = "audio"

	// MasterPlaylistName is the filename of the master manifest.
	MasterPlaylistName = "master.m3u8"
	// VideoPlaylistName is the filename of the video variant playlist.
	VideoPlaylistName = "video.m3u8"
	// VideoSegmentPattern is the ffmpeg segment filename pattern for video.
	VideoSegmentPattern = "video_%04d.ts"
)

// MasterParams holds everything needed to render a master playlist.
type MasterParams struct {
	// VideoURI references the video variant playlist, usually VideoPlaylistName.
	VideoURI string
	// AudioTracks are emitted as EXT-X-MEDIA entries in the given order.
	AudioTracks []model.AudioTrack
	// Resolution is "WxH", e.g. "1920x1080".
	Resolution string
	// Bandwidth is the peak stream bandwidth in bits per second.
	Bandwidth int
	// Codecs is the RFC 6381 codecs attribute, e.g. "avc1.4d401f,mp4a.40.2".
	Codecs string
}

// RenderMaster produces the master playlist text. It is deterministic and
// side-effect free: identical params yield byte-identical output.
func RenderMaster(p MasterParams) string {
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:4\n")

	for _, track := range p.AudioTracks {
		def := "NO"
		if track.IsDefault {
			def = "YES"
		}
		sb.WriteString(fmt.Sprintf(
			"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=%q,NAME=%q,LANGUAGE=%q,DEFAULT=%s,AUTOSELECT=YES,URI=%q\n",
			audioGroupID, track.Name, track.Language, def, AudioPlaylistName(track.Language),
		))
	}

	if len(p.AudioTracks) > 0 {
		sb.WriteString(fmt.Sprintf(
			"#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,CODECS=%q,AUDIO=%q\n",
			p.Bandwidth, p.Resolution, p.Codecs, audioGroupID,
		))
	} else {
		sb.WriteString(fmt.Sprintf(
			"#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,CODECS=%q\n",
			p.Bandwidth, p.Resolution, p.Codecs,
		))
	}
	sb.WriteString(p.VideoURI)
	sb.WriteString("\n")
	// The playlist ends with a trailing blank line.
	sb.WriteString("\n")

	return sb.String()
}
