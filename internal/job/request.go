package job

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maauso/ffanime/internal/optional"
	"github.com/maauso/ffanime/internal/storage"
)

// Validation errors. They are returned before any work is scheduled.
var (
	// ErrNoImages is returned for a request without images.
	ErrNoImages = errors.New("at least one image is required")
	// ErrShapeMismatch is returned when the audio or subtitle sequence is
	// present but not as long as the image sequence.
	ErrShapeMismatch = errors.New("sequence length does not match images")
	// ErrEmptyReference is returned for an empty image URI.
	ErrEmptyReference = errors.New("empty media reference")
	// ErrInvalidResponseType is returned for a response type other than url or path.
	ErrInvalidResponseType = errors.New("invalid response type")
)

// Request describes one composition.
type Request struct {
	// Images are the still images, in playback order.
	Images []string `json:"images"`
	// Audios optionally holds one track per image; a null entry means none.
	Audios []optional.Value[string] `json:"audios,omitempty"`
	// Subtitles optionally holds one subtitle file per image.
	Subtitles []optional.Value[string] `json:"subtitles,omitempty"`
	// Background is looped under the whole video.
	Background optional.Value[string] `json:"background_audio"`
	// Opening is crossfaded in before the first image.
	Opening optional.Value[string] `json:"opening"`
	// Ending is crossfaded in after the last image.
	Ending optional.Value[string] `json:"ending"`
	// Cover is embedded as the attached picture.
	Cover optional.Value[string] `json:"cover"`

	// ResponseType is "url" (default) or "path".
	ResponseType string `json:"response_type,omitempty"`
	// PushToS3 uploads the output to the configured bucket.
	PushToS3 bool `json:"push_to_s3,omitempty"`
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if len(r.Images) == 0 {
		return ErrNoImages
	}
	for i, img := range r.Images {
		if strings.TrimSpace(img) == "" {
			return fmt.Errorf("%w: images[%d]", ErrEmptyReference, i)
		}
	}
	if r.Audios != nil && len(r.Audios) != len(r.Images) {
		return fmt.Errorf("%w: %d audios for %d images", ErrShapeMismatch, len(r.Audios), len(r.Images))
	}
	if r.Subtitles != nil && len(r.Subtitles) != len(r.Images) {
		return fmt.Errorf("%w: %d subtitles for %d images", ErrShapeMismatch, len(r.Subtitles), len(r.Images))
	}
	switch r.ResponseType {
	case "", storage.ResponseURL, storage.ResponsePath:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidResponseType, r.ResponseType)
	}
	return nil
}
