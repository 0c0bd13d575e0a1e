// Package media turns still images into animated clips and combines clips
// into one finished video. Every operation drives an external ffmpeg or
// ffprobe process, checks its exit status and produces a new file; inputs
// are never modified in place.
package media

import (
	"context"
	"fmt"

	"github.com/maauso/ffanime/internal/optional"
)

// FallbackClipSeconds replaces a non-positive clip duration passed to Render.
const FallbackClipSeconds = 5

// Clip is a rendered or transformed video segment.
type Clip struct {
	// Path is the absolute location of the video file.
	Path string
	// Duration is the playable length in seconds.
	Duration float64
}

// Info is what Probe learns about a media file.
type Info struct {
	Duration float64
	HasAudio bool
}

// PadMode selects how an attached audio track is reconciled with the
// video length.
type PadMode int

const (
	// SilencePad pads a short track with silence and stops at the shorter
	// stream, so the output keeps the video length.
	SilencePad PadMode = iota
	// RepeatPad loops the track indefinitely (optionally under the clip's
	// existing audio) and stops at the video end.
	RepeatPad
)

func (m PadMode) String() string {
	switch m {
	case SilencePad:
		return "silence-pad"
	case RepeatPad:
		return "repeat-pad"
	default:
		return fmt.Sprintf("PadMode(%d)", int(m))
	}
}

// MixMode decides what happens to a clip's existing audio when a
// background track is attached with RepeatPad.
type MixMode string

const (
	// MixBlend mixes the looped background under the existing track. A clip
	// without audio gets the background alone.
	MixBlend MixMode = "mix"
	// MixReplace discards the existing track.
	MixReplace MixMode = "replace"
)

// ParseMixMode validates a configured mix mode.
func ParseMixMode(s string) (MixMode, error) {
	switch m := MixMode(s); m {
	case MixBlend, MixReplace:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMixMode, s)
	}
}

// Processor defines the composition stages applied to clips.
type Processor interface {
	// Render loops image for seconds, animated with a randomly picked
	// enabled effect, and writes the clip to output. A non-positive seconds
	// is replaced by FallbackClipSeconds.
	Render(ctx context.Context, image, output string, seconds int) (Clip, error)

	// AttachAudio binds audio onto clip. The video stream is copied and only
	// the audio is encoded. An absent audio copies the clip unchanged.
	AttachAudio(ctx context.Context, clip Clip, audio optional.Value[string], output string, mode PadMode) (Clip, error)

	// AttachSilence adds a silent track covering the clip's length. The
	// video stream is copied.
	AttachSilence(ctx context.Context, clip Clip, output string) (Clip, error)

	// AttachSubtitle burns subtitle into the video stream and copies the
	// audio. An absent subtitle copies the clip unchanged.
	AttachSubtitle(ctx context.Context, clip Clip, subtitle optional.Value[string], output string) (Clip, error)

	// Concat joins clips in the given order with a stream copy.
	Concat(ctx context.Context, clips []Clip, output string) (Clip, error)

	// Splice crossfades the end of leading into the start of trailing.
	Splice(ctx context.Context, leading, trailing Clip, output string) (Clip, error)

	// AttachCover embeds image as the attached picture of clip.
	AttachCover(ctx context.Context, clip Clip, image, output string) (Clip, error)

	// Probe reports the duration and audio presence of a media file.
	Probe(ctx context.Context, path string) (Info, error)
}

// SpliceOffset is the point in the leading clip at which the trailing clip
// starts blending in: half a transition before the leading clip ends, never
// before its start.
func SpliceOffset(leading, transition float64) float64 {
	return max(0, leading-transition/2)
}
