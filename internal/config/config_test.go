package config

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/ffanime/internal/effect"
	"github.com/maauso/ffanime/internal/media"
	"github.com/maauso/ffanime/internal/storage"
)

func load(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return LoadFrom(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, nil)
	require.NoError(t, err)

	assert.Equal(t, 8686, cfg.Port)
	assert.Equal(t, "/tmp/ffanime", cfg.TempDir)
	assert.Equal(t, "/data/ffanime", cfg.OutputDir)
	assert.Equal(t, "http://localhost:8686", cfg.HTTPPrefix)
	assert.Empty(t, cfg.PathPrefix)
	assert.Equal(t, 0, cfg.Workers)
	assert.Equal(t, 4096, cfg.FrameWidth)
	assert.Equal(t, 2304, cfg.FrameHeight)
	assert.Equal(t, 25, cfg.FPS)
	assert.Equal(t, 5, cfg.DefaultClipSec)
	assert.InDelta(t, 1.0, cfg.TransitionSec, 1e-9)
	assert.Empty(t, cfg.EnabledEffects)
	assert.Equal(t, "mix", cfg.BackgroundMix)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.FFprobePath)
	assert.Equal(t, 30*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ShutdownTimeout)
	assert.Equal(t, "aws", cfg.S3Provider)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.S3Enabled())
}

func TestLoad_CustomValues(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"PORT":             "3000",
		"TEMP_DIR":         "/custom/temp",
		"OUTPUT_DIR":       "/custom/out",
		"PATH_PREFIX":      "/mnt/out",
		"WORKERS":          "3",
		"FRAME_WIDTH":      "1920",
		"FRAME_HEIGHT":     "1080",
		"FPS":              "30",
		"DEFAULT_CLIP_SEC": "4",
		"TRANSITION_SEC":   "0.5",
		"ENABLED_EFFECTS":  "zoom_in,fade_in",
		"BACKGROUND_MIX":   "replace",
		"JOB_TIMEOUT":      "90s",
		"S3_PROVIDER":      "minio",
		"S3_BUCKET":        "my-bucket",
		"S3_REGION":        "us-east-1",
		"S3_ENDPOINT":      "http://minio:9000",
		"LOG_FORMAT":       "json",
		"LOG_LEVEL":        "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/custom/temp", cfg.TempDir)
	assert.Equal(t, "/custom/out", cfg.OutputDir)
	assert.Equal(t, "/mnt/out", cfg.PathPrefix)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 1920, cfg.FrameWidth)
	assert.Equal(t, 1080, cfg.FrameHeight)
	assert.Equal(t, 30, cfg.FPS)
	assert.Equal(t, 4, cfg.DefaultClipSec)
	assert.InDelta(t, 0.5, cfg.TransitionSec, 1e-9)
	assert.Equal(t, []string{"zoom_in", "fade_in"}, cfg.EnabledEffects)
	assert.Equal(t, "replace", cfg.BackgroundMix)
	assert.Equal(t, 90*time.Second, cfg.JobTimeout)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.S3Enabled())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{"zero port", map[string]string{"PORT": "0"}, ErrInvalidPort},
		{"large port", map[string]string{"PORT": "70000"}, ErrInvalidPort},
		{"zero width", map[string]string{"FRAME_WIDTH": "0"}, ErrInvalidFrameSize},
		{"negative height", map[string]string{"FRAME_HEIGHT": "-1"}, ErrInvalidFrameSize},
		{"zero fps", map[string]string{"FPS": "0"}, ErrInvalidFPS},
		{"zero clip seconds", map[string]string{"DEFAULT_CLIP_SEC": "0"}, ErrInvalidClipSeconds},
		{"zero transition", map[string]string{"TRANSITION_SEC": "0"}, ErrInvalidTransition},
		{"negative workers", map[string]string{"WORKERS": "-2"}, ErrInvalidWorkers},
		{"unknown effect", map[string]string{"ENABLED_EFFECTS": "zoom_in,spin"}, effect.ErrUnknownEffect},
		{"unknown mix", map[string]string{"BACKGROUND_MIX": "duck"}, media.ErrUnknownMixMode},
		{"unknown provider", map[string]string{"S3_PROVIDER": "gcs"}, ErrInvalidS3Provider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.env)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoad_InvalidInteger(t *testing.T) {
	_, err := load(t, map[string]string{"PORT": "not-a-number"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config:")
}

func TestLoad_FromProcessEnv(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("OUTPUT_DIR", "/srv/out")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Port)
	assert.Equal(t, "/srv/out", cfg.OutputDir)
}

func TestConfig_MediaConfig(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"FRAME_WIDTH":     "640",
		"FRAME_HEIGHT":    "360",
		"FPS":             "12",
		"TRANSITION_SEC":  "2",
		"ENABLED_EFFECTS": "slide_up",
		"BACKGROUND_MIX":  "replace",
		"FFMPEG_PATH":     "/opt/ffmpeg",
	})
	require.NoError(t, err)

	mc, err := cfg.MediaConfig()
	require.NoError(t, err)
	assert.Equal(t, effect.Size{Width: 640, Height: 360}, mc.Size)
	assert.Equal(t, 12, mc.FPS)
	assert.InDelta(t, 2.0, mc.Transition, 1e-9)
	assert.Equal(t, media.MixReplace, mc.BackgroundMix)
	assert.Equal(t, "/opt/ffmpeg", mc.FFmpegPath)
	assert.Equal(t, "libx264", mc.VideoCodec)
	assert.Equal(t, []effect.ID{effect.SlideUp}, mc.Effects.Enabled())
}

func TestConfig_Effects_Defaults(t *testing.T) {
	cfg := &Config{}
	catalog, err := cfg.Effects()
	require.NoError(t, err)
	assert.Equal(t, effect.Defaults(), catalog.Enabled())
}

func TestConfig_S3AndPublisherConfig(t *testing.T) {
	cfg := &Config{
		S3Provider:         "MINIO",
		S3Bucket:           "b",
		S3Region:           "r",
		S3Endpoint:         "http://minio:9000",
		AWSAccessKeyID:     "id",
		AWSSecretAccessKey: "secret",
		OutputDir:          "/out",
		HTTPPrefix:         "http://h",
	}

	assert.Equal(t, storage.S3Config{
		Provider:        storage.ProviderMinio,
		Bucket:          "b",
		Region:          "r",
		Endpoint:        "http://minio:9000",
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
	}, cfg.S3Config())

	assert.Equal(t, storage.PublisherConfig{OutputDir: "/out", HTTPPrefix: "http://h"}, cfg.PublisherConfig())
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8686,
		TempDir:            "/tmp/test",
		S3Bucket:           "bucket-123",
		AWSSecretAccessKey: "secret-key",
		FTPPassword:        "ftp-secret",
		SFTPPassword:       "sftp-secret",
	}

	str := cfg.String()

	assert.Contains(t, str, "8686")
	assert.Contains(t, str, "bucket-123")
	assert.Contains(t, str, "/tmp/test")

	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "ftp-secret")
	assert.NotContains(t, str, "sftp-secret")
}

func TestConfig_JSONMasksSecrets(t *testing.T) {
	cfg := &Config{AWSAccessKeyID: "AKIA", AWSSecretAccessKey: "secret-key", FTPPassword: "pw"}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "AKIA")
	assert.NotContains(t, string(data), "secret-key")
	assert.NotContains(t, string(data), `"pw"`)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, "json", "warn")
	logger.Info("hidden")
	logger.Warn("shown", slog.String("job_id", "abc"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"job_id":"abc"`)

	buf.Reset()
	NewLogger(&buf, "text", "debug").Debug("details")
	assert.Contains(t, buf.String(), "msg=details")
}

func TestConfig_NewLogger(t *testing.T) {
	cfg := &Config{LogFormat: "json", LogLevel: "info"}
	require.NotNil(t, cfg.NewLogger())
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}
