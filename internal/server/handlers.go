package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/ffanime/internal/job"
	"github.com/maauso/ffanime/internal/media"
	"github.com/maauso/ffanime/internal/storage"
)

// Composer runs compositions and exposes their job records.
type Composer interface {
	Compose(ctx context.Context, req job.Request) (*job.Result, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	composer  Composer
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(composer Composer, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		composer:  composer,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Generate handles POST /generate requests. The composition runs within the
// request; the response carries the published video.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	res, err := h.composer.Compose(r.Context(), req.toJob())
	if err != nil {
		status, code := classify(err)
		if status == http.StatusBadRequest {
			h.logger.Warn("request rejected", slog.String("error", err.Error()))
		} else {
			h.logger.Error("composition failed",
				slog.String("code", code),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, status, err.Error(), code)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		ID:       res.JobID,
		Video:    res.Location,
		Duration: res.Duration,
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.composer.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newJobResponse(found))
}

// classify maps a composition error to a status code and error code.
func classify(err error) (int, string) {
	var fetchErr *storage.FetchError
	var transcodeErr *media.TranscodeError

	switch {
	case job.IsValidation(err):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.As(err, &fetchErr):
		return http.StatusUnprocessableEntity, "FETCH_FAILED"
	case errors.As(err, &transcodeErr):
		return http.StatusInternalServerError, "TRANSCODE_FAILED"
	default:
		return http.StatusInternalServerError, "COMPOSITION_FAILED"
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
