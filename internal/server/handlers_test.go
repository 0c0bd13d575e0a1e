package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/ffanime/internal/job"
	"github.com/maauso/ffanime/internal/media"
	"github.com/maauso/ffanime/internal/storage"
)

// mockComposer implements Composer for testing.
type mockComposer struct {
	mock.Mock
}

func (m *mockComposer) Compose(ctx context.Context, req job.Request) (*job.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Result), args.Error(1)
}

func (m *mockComposer) GetJob(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(t *testing.T) (*Handlers, *mockComposer) {
	t.Helper()
	composer := &mockComposer{}
	t.Cleanup(func() { composer.AssertExpectations(t) })
	return NewHandlers(composer, quietLogger()), composer
}

func postGenerate(h *Handlers, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Generate(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// withURLParam attaches a chi route context so handlers can read {id}.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func doneJob(t *testing.T, id string, out job.Output) *job.Job {
	t.Helper()
	j := job.NewWithID(id)
	j.Images = 2
	for _, s := range []job.Stage{
		job.StageFetching, job.StageRendering, job.StageAttachingMedia,
		job.StageSequencing, job.StageBumpers, job.StageCover, job.StagePublishing,
	} {
		require.NoError(t, j.TransitionTo(s))
	}
	require.NoError(t, j.Complete(out))
	return j
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestGenerate_Success(t *testing.T) {
	h, composer := newTestHandlers(t)

	composer.On("Compose", mock.Anything, mock.MatchedBy(func(req job.Request) bool {
		return len(req.Images) == 2 &&
			len(req.Audios) == 2 &&
			req.Audios[0].OrElse("") == "s3://in/a.mp3" &&
			!req.Audios[1].IsSome() &&
			req.Background.OrElse("") == "https://cdn.example.com/bg.mp3" &&
			req.ResponseType == "path" &&
			req.PushToS3
	})).Return(&job.Result{
		JobID:    "job-1",
		Path:     "/data/ffanime/20261018/job-1.mp4",
		Location: "/mnt/out/20261018/job-1.mp4",
		Duration: 9,
	}, nil)

	rec := postGenerate(h, `{
		"images": ["s3://in/a.png", "s3://in/b.png"],
		"audios": ["s3://in/a.mp3", null],
		"background_audio": "https://cdn.example.com/bg.mp3",
		"response_type": "path",
		"push_to_s3": true
	}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp GenerateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job-1", resp.ID)
	assert.Equal(t, "/mnt/out/20261018/job-1.mp4", resp.Video)
	assert.InDelta(t, 9.0, resp.Duration, 1e-9)
}

func TestGenerate_InvalidJSON(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := postGenerate(h, "invalid json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, rec).Code)
}

func TestGenerate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing images", `{}`},
		{"empty images", `{"images": []}`},
		{"blank image", `{"images": ["a.png", ""]}`},
		{"unknown response type", `{"images": ["a.png"], "response_type": "base64"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandlers(t)

			rec := postGenerate(h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
		})
	}
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "shape mismatch",
			err:        fmt.Errorf("%w: 1 audios for 2 images", job.ErrShapeMismatch),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name: "fetch failure",
			err: fmt.Errorf("job x: fetching: %w", &storage.FetchError{
				Op: storage.OpFetch, URI: "s3://in/a.png", Err: storage.ErrNotFound,
			}),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "FETCH_FAILED",
		},
		{
			name: "transcode failure",
			err: fmt.Errorf("job x: rendering: %w", &media.TranscodeError{
				Op: "render", Err: errors.New("exit status 1"),
			}),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "TRANSCODE_FAILED",
		},
		{
			name:       "other failure",
			err:        errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "COMPOSITION_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, composer := newTestHandlers(t)
			composer.On("Compose", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := postGenerate(h, `{"images": ["s3://in/a.png", "s3://in/b.png"]}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestGetJob_Success(t *testing.T) {
	h, composer := newTestHandlers(t)

	j := doneJob(t, "job-1", job.Output{
		Path:     "/data/ffanime/20261018/job-1.mp4",
		Location: "http://localhost:8686/data/20261018/job-1.mp4",
		Duration: 12,
	})
	composer.On("GetJob", mock.Anything, "job-1").Return(j, nil)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil), "id", "job-1")
	rec := httptest.NewRecorder()

	h.GetJob(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job-1", resp.ID)
	assert.Equal(t, "DONE", resp.Stage)
	assert.Equal(t, 2, resp.Images)
	assert.Equal(t, "http://localhost:8686/data/20261018/job-1.mp4", resp.Video)
	assert.InDelta(t, 12.0, resp.Duration, 1e-9)
	assert.NotNil(t, resp.CompletedAt)
	assert.Empty(t, resp.Error)
}

func TestGetJob_Failed(t *testing.T) {
	h, composer := newTestHandlers(t)

	j := job.NewWithID("job-2")
	require.NoError(t, j.TransitionTo(job.StageFetching))
	require.NoError(t, j.Fail("fetch s3://in/a.png: object not found"))
	composer.On("GetJob", mock.Anything, "job-2").Return(j, nil)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/jobs/job-2", nil), "id", "job-2")
	rec := httptest.NewRecorder()

	h.GetJob(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "FAILED", resp.Stage)
	assert.Equal(t, "FETCHING", resp.FailedStage)
	assert.Contains(t, resp.Error, "object not found")
	assert.Empty(t, resp.Video)
}

func TestGetJob_NotFound(t *testing.T) {
	h, composer := newTestHandlers(t)
	composer.On("GetJob", mock.Anything, "nonexistent").Return(nil, job.ErrJobNotFound)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/jobs/nonexistent", nil), "id", "nonexistent")
	rec := httptest.NewRecorder()

	h.GetJob(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec).Code)
}

func TestGetJob_RepositoryError(t *testing.T) {
	h, composer := newTestHandlers(t)
	composer.On("GetJob", mock.Anything, "job-3").Return(nil, errors.New("boom"))

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/jobs/job-3", nil), "id", "job-3")
	rec := httptest.NewRecorder()

	h.GetJob(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "JOB_FETCH_FAILED", decodeError(t, rec).Code)
}

func TestGetJob_MissingID(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/", nil)
	rec := httptest.NewRecorder()

	h.GetJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_JOB_ID", decodeError(t, rec).Code)
}

func TestRouter_Integration(t *testing.T) {
	h, composer := newTestHandlers(t)
	router := NewRouter(h, quietLogger(), DefaultConfig())

	// Health
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	// POST /generate
	composer.On("Compose", mock.Anything, mock.Anything).Return(&job.Result{
		JobID: "job-1", Location: "http://localhost:8686/data/20261018/job-1.mp4", Duration: 5,
	}, nil)
	req = httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader([]byte(`{"images": ["a.png"]}`)))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// GET /jobs/{id}
	composer.On("GetJob", mock.Anything, "job-1").Return(doneJob(t, "job-1", job.Output{}), nil)
	req = httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong method
	req = httptest.NewRequest(http.MethodGet, "/generate", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := NewRouter(h, quietLogger(), DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRouter_ServesOutputDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "20261018"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20261018", "job-1.mp4"), []byte("video"), 0o644))

	h, _ := newTestHandlers(t)
	router := NewRouter(h, quietLogger(), Config{OutputDir: dir})

	req := httptest.NewRequest(http.MethodGet, "/data/20261018/job-1.mp4", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "video", string(body))

	req = httptest.NewRequest(http.MethodGet, "/data/20261018/missing.mp4", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_RecoversFromPanic(t *testing.T) {
	h, composer := newTestHandlers(t)
	composer.On("GetJob", mock.Anything, "boom").Run(func(mock.Arguments) {
		panic("unexpected")
	}).Return(nil, nil)

	router := NewRouter(h, quietLogger(), DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/jobs/boom", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}

func TestCORS(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := NewRouter(h, quietLogger(), Config{AllowedOrigins: []string{"https://example.com"}})

	// Allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Disallowed origin
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
