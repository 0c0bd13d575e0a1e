// Package effect provides the catalog of pan/zoom/slide animations applied to
// still images when they are rendered into clips. Every effect is a pure
// mapping from (frame count, frame size, frame rate) to an ffmpeg filter
// expression; selection among the enabled subset is delegated to an injectable
// randomness source.
package effect

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEffect is returned when an effect name is not part of the catalog.
var ErrUnknownEffect = errors.New("unknown effect")

// ID names an entry of the effect catalog.
type ID string

const (
	// ZoomIn magnifies the centre of the image at a constant rate.
	ZoomIn ID = "zoom_in"
	// ZoomOut starts magnified and pulls back, never going below 1x.
	ZoomOut ID = "zoom_out"
	// SlideLeft pans the viewport from the right edge to the left edge.
	SlideLeft ID = "slide_left"
	// SlideRight pans the viewport from the left edge to the right edge.
	SlideRight ID = "slide_right"
	// SlideUp pans the viewport from the bottom edge to the top edge.
	SlideUp ID = "slide_up"
	// SlideDown pans the viewport from the top edge to the bottom edge.
	SlideDown ID = "slide_down"
	// FadeIn fades the still image in from black.
	FadeIn ID = "fade_in"
	// FadeOut fades the still image out to black.
	FadeOut ID = "fade_out"
)

// Size is a frame size in pixels.
type Size struct {
	Width  int
	Height int
}

// String formats the size the way ffmpeg expects it (WxH).
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// slideZoom is the fixed magnification used by the slide family, leaving
// (1 - 1/slideZoom) of each axis as travel room for the pan.
const slideZoom = "1.25"

// zoomStep is the per-frame magnification delta of the zoom family.
const zoomStep = "0.0015"

// All returns every effect of the catalog in a stable order.
func All() []ID {
	return []ID{ZoomIn, ZoomOut, SlideLeft, SlideRight, SlideUp, SlideDown, FadeIn, FadeOut}
}

// Defaults returns the effects enabled when no explicit selection is configured.
// The fade family is kept in the catalog but disabled.
func Defaults() []ID {
	return []ID{ZoomIn, ZoomOut, SlideLeft, SlideRight, SlideUp, SlideDown}
}

// Parse resolves a catalog name. Surrounding whitespace and case are ignored.
func Parse(name string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range All() {
		if id == known {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEffect, name)
}

// Apply returns the filter expression for rendering frames frames of size at
// fps. The result depends only on its arguments. An unknown ID yields an
// empty expression.
func (id ID) Apply(frames int, size Size, fps int) string {
	// Common zoompan tail: one input frame expands into the whole clip.
	tail := fmt.Sprintf("d=%d:s=%s:fps=%d", frames, size, fps)

	switch id {
	case ZoomIn:
		return fmt.Sprintf(
			"scale=iw*2:-1,zoompan=z='min(zoom+%s,1.5)':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':%s",
			zoomStep, tail)
	case ZoomOut:
		return fmt.Sprintf(
			"scale=iw*2:-1,zoompan=z='if(lte(zoom,1.0),1.5,max(1.001,zoom-%s))':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':%s",
			zoomStep, tail)
	case SlideLeft:
		return fmt.Sprintf(
			"zoompan=z='%s':x='(iw-iw/zoom)*(1-on/%d)':y='(ih-ih/zoom)/2':%s",
			slideZoom, frames, tail)
	case SlideRight:
		return fmt.Sprintf(
			"zoompan=z='%s':x='(iw-iw/zoom)*on/%d':y='(ih-ih/zoom)/2':%s",
			slideZoom, frames, tail)
	case SlideUp:
		return fmt.Sprintf(
			"zoompan=z='%s':x='(iw-iw/zoom)/2':y='(ih-ih/zoom)*(1-on/%d)':%s",
			slideZoom, frames, tail)
	case SlideDown:
		return fmt.Sprintf(
			"zoompan=z='%s':x='(iw-iw/zoom)/2':y='(ih-ih/zoom)*on/%d':%s",
			slideZoom, frames, tail)
	case FadeIn:
		return fmt.Sprintf("zoompan=z=1:%s,fade=t=in:s=0:n=%d", tail, fadeFrames(frames, fps))
	case FadeOut:
		n := fadeFrames(frames, fps)
		return fmt.Sprintf("zoompan=z=1:%s,fade=t=out:s=%d:n=%d", tail, frames-n, n)
	default:
		return ""
	}
}

// fadeFrames is the length of a fade: one second, or the whole clip if shorter.
func fadeFrames(frames, fps int) int {
	if fps < frames {
		return fps
	}
	return frames
}
