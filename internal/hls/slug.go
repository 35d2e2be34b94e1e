package hls

import "strings"

// Slug sanitizes a language tag into a filename-safe slug: every character
// outside [A-Za-z0-9] becomes '_'. The transcoder names audio output files
// with this slug and the manifest assembler builds URIs with it; both MUST
// use this one function or the manifest references files that do not exist.
func Slug(language string) string {
	if language == "" {
		return "und"
	}
	var b strings.Builder
	b.Grow(len(language))
	for _, r := range language {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// AudioPlaylistName returns the variant playlist filename for an audio track
// language, e.g. "pt-BR" -> "audio_pt_BR.m3u8".
func AudioPlaylistName(language string) string {
	return "audio_" + Slug(language) + ".m3u8"
}

// AudioSegmentPattern returns the ffmpeg segment filename pattern for an
// audio track language, e.g. "audio_ja_%04d.ts".
func AudioSegmentPattern(language string) string {
	return "audio_" + Slug(language) + "_%04d.ts"
}
