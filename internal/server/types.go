// Package server provides the HTTP surface for ffanime.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/ffanime/internal/job"
	"github.com/maauso/ffanime/internal/optional"
)

// GenerateRequest is the HTTP request body for a composition.
type GenerateRequest struct {
	// Images are the clip sources in playback order.
	Images []string `json:"images" validate:"required,min=1,dive,required"`
	// Audios holds one optional voice track per image.
	Audios []optional.Value[string] `json:"audios,omitempty"`
	// Subtitles holds one optional subtitle file per image.
	Subtitles []optional.Value[string] `json:"subtitles,omitempty"`
	// Background is looped under the whole sequence.
	Background optional.Value[string] `json:"background_audio"`
	// Opening is spliced before the sequence.
	Opening optional.Value[string] `json:"opening"`
	// Ending is spliced after the sequence.
	Ending optional.Value[string] `json:"ending"`
	// Cover is embedded as the attached picture.
	Cover optional.Value[string] `json:"cover"`
	// ResponseType selects a url (default) or path response.
	ResponseType string `json:"response_type,omitempty" validate:"omitempty,oneof=url path"`
	// PushToS3 also uploads the result to the configured bucket.
	PushToS3 bool `json:"push_to_s3,omitempty"`
}

func (r GenerateRequest) toJob() job.Request {
	return job.Request{
		Images:       r.Images,
		Audios:       r.Audios,
		Subtitles:    r.Subtitles,
		Background:   r.Background,
		Opening:      r.Opening,
		Ending:       r.Ending,
		Cover:        r.Cover,
		ResponseType: r.ResponseType,
		PushToS3:     r.PushToS3,
	}
}

// GenerateResponse is the HTTP response after a composition finished.
type GenerateResponse struct {
	// ID is the job that produced the video.
	ID string `json:"id"`
	// Video is the URL or path of the published output.
	Video string `json:"video"`
	// Duration is the playable length in seconds.
	Duration float64 `json:"duration"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID          string     `json:"id"`
	Stage       string     `json:"stage"`
	Images      int        `json:"images"`
	Error       string     `json:"error,omitempty"`
	FailedStage string     `json:"failed_stage,omitempty"`
	Video       string     `json:"video,omitempty"`
	Duration    float64    `json:"duration,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func newJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:          j.ID,
		Stage:       string(j.Stage),
		Images:      j.Images,
		Error:       j.Error,
		FailedStage: string(j.FailedStage),
		Video:       j.Output.Location,
		Duration:    j.Output.Duration,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if !j.CompletedAt.IsZero() {
		at := j.CompletedAt
		resp.CompletedAt = &at
	}
	return resp
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
