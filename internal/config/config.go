// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/ffanime/internal/effect"
	"github.com/maauso/ffanime/internal/media"
	"github.com/maauso/ffanime/internal/storage"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidFrameSize is returned when FRAME_WIDTH or FRAME_HEIGHT is not positive.
	ErrInvalidFrameSize = errors.New("config: FRAME_WIDTH and FRAME_HEIGHT must be positive")
	// ErrInvalidFPS is returned when FPS is not positive.
	ErrInvalidFPS = errors.New("config: FPS must be positive")
	// ErrInvalidClipSeconds is returned when DEFAULT_CLIP_SEC is not positive.
	ErrInvalidClipSeconds = errors.New("config: DEFAULT_CLIP_SEC must be positive")
	// ErrInvalidTransition is returned when TRANSITION_SEC is not positive.
	ErrInvalidTransition = errors.New("config: TRANSITION_SEC must be positive")
	// ErrInvalidWorkers is returned when WORKERS is negative.
	ErrInvalidWorkers = errors.New("config: WORKERS must not be negative")
	// ErrOutputDirRequired is returned when OUTPUT_DIR is empty.
	ErrOutputDirRequired = errors.New("config: OUTPUT_DIR is required")
	// ErrInvalidS3Provider is returned when S3_PROVIDER is neither aws nor minio.
	ErrInvalidS3Provider = errors.New("config: S3_PROVIDER must be aws or minio")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port               int           `env:"PORT, default=8686" json:"port"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" json:"cors_allowed_origins,omitempty"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT, default=5m" json:"shutdown_timeout"`

	// Storage settings
	TempDir    string `env:"TEMP_DIR, default=/tmp/ffanime" json:"temp_dir"`
	OutputDir  string `env:"OUTPUT_DIR, default=/data/ffanime" json:"output_dir"`
	HTTPPrefix string `env:"HTTP_PREFIX, default=http://localhost:8686" json:"http_prefix"`
	PathPrefix string `env:"PATH_PREFIX" json:"path_prefix,omitempty"` // Defaults to OutputDir

	// Processing settings
	Workers        int           `env:"WORKERS, default=0" json:"workers"` // 0 means NumCPU-1
	FrameWidth     int           `env:"FRAME_WIDTH, default=4096" json:"frame_width"`
	FrameHeight    int           `env:"FRAME_HEIGHT, default=2304" json:"frame_height"`
	FPS            int           `env:"FPS, default=25" json:"fps"`
	DefaultClipSec int           `env:"DEFAULT_CLIP_SEC, default=5" json:"default_clip_sec"`
	TransitionSec  float64       `env:"TRANSITION_SEC, default=1.0" json:"transition_sec"`
	EnabledEffects []string      `env:"ENABLED_EFFECTS" json:"enabled_effects,omitempty"` // Empty means effect.Defaults()
	BackgroundMix  string        `env:"BACKGROUND_MIX, default=mix" json:"background_mix"`
	FFmpegPath     string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath    string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	VideoPreset    string        `env:"VIDEO_PRESET, default=fast" json:"video_preset"`
	JobTimeout     time.Duration `env:"JOB_TIMEOUT, default=30m" json:"job_timeout"`
	JobRetention   int           `env:"JOB_RETENTION, default=1000" json:"job_retention"`

	// Optional S3 settings
	S3Provider         string `env:"S3_PROVIDER, default=aws" json:"s3_provider"`
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Default credentials for URIs without user info
	FTPUser        string `env:"FTP_USER" json:"ftp_user,omitempty"`
	FTPPassword    string `env:"FTP_PASSWORD" json:"-"` // Masked in JSON
	SFTPUser       string `env:"SFTP_USER" json:"sftp_user,omitempty"`
	SFTPPassword   string `env:"SFTP_PASSWORD" json:"-"` // Masked in JSON
	SFTPKnownHosts string `env:"SFTP_KNOWN_HOSTS" json:"sftp_known_hosts,omitempty"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Region != "" || c.S3Endpoint != ""
}

// Load reads an optional .env file, then the environment, and validates the
// result.
func Load() (*Config, error) {
	// A missing .env file is fine; the environment alone is enough.
	_ = godotenv.Load()
	return LoadFrom(context.Background(), nil)
}

// LoadFrom reads configuration from lookuper, or from the process environment
// when lookuper is nil.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Port)
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("%w: got %dx%d", ErrInvalidFrameSize, c.FrameWidth, c.FrameHeight)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidFPS, c.FPS)
	}
	if c.DefaultClipSec <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidClipSeconds, c.DefaultClipSec)
	}
	if c.TransitionSec <= 0 {
		return fmt.Errorf("%w: got %g", ErrInvalidTransition, c.TransitionSec)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, c.Workers)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return ErrOutputDirRequired
	}
	if _, err := c.Effects(); err != nil {
		return fmt.Errorf("config: ENABLED_EFFECTS: %w", err)
	}
	if _, err := media.ParseMixMode(c.BackgroundMix); err != nil {
		return fmt.Errorf("config: BACKGROUND_MIX: %w", err)
	}
	switch strings.ToLower(c.S3Provider) {
	case storage.ProviderAWS, storage.ProviderMinio:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidS3Provider, c.S3Provider)
	}
	return nil
}

// Effects builds the enabled effect catalog.
func (c *Config) Effects() (*effect.Catalog, error) {
	if len(c.EnabledEffects) == 0 {
		return effect.NewCatalog(effect.Defaults())
	}

	ids := make([]effect.ID, 0, len(c.EnabledEffects))
	for _, name := range c.EnabledEffects {
		id, err := effect.Parse(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return effect.NewCatalog(ids)
}

// MediaConfig returns the encoding parameters for the media processor.
func (c *Config) MediaConfig() (media.Config, error) {
	catalog, err := c.Effects()
	if err != nil {
		return media.Config{}, err
	}
	mix, err := media.ParseMixMode(c.BackgroundMix)
	if err != nil {
		return media.Config{}, err
	}

	cfg := media.DefaultConfig()
	cfg.FFmpegPath = c.FFmpegPath
	cfg.FFprobePath = c.FFprobePath
	cfg.Size = effect.Size{Width: c.FrameWidth, Height: c.FrameHeight}
	cfg.FPS = c.FPS
	cfg.VideoPreset = c.VideoPreset
	cfg.Transition = c.TransitionSec
	cfg.BackgroundMix = mix
	cfg.Effects = catalog
	return cfg, nil
}

// S3Config returns the S3 backend settings.
func (c *Config) S3Config() storage.S3Config {
	return storage.S3Config{
		Provider:        strings.ToLower(c.S3Provider),
		Bucket:          c.S3Bucket,
		Region:          c.S3Region,
		Endpoint:        c.S3Endpoint,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
	}
}

// PublisherConfig returns the output layout.
func (c *Config) PublisherConfig() storage.PublisherConfig {
	return storage.PublisherConfig{
		OutputDir:  c.OutputDir,
		HTTPPrefix: c.HTTPPrefix,
		PathPrefix: c.PathPrefix,
	}
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return NewLogger(os.Stdout, c.LogFormat, c.LogLevel)
}

// NewLogger creates a logger writing to w in the given format and level.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, OutputDir: %s, HTTPPrefix: %s, Workers: %d, Frame: %dx%d@%d, TransitionSec: %g, BackgroundMix: %s, S3Provider: %s, S3Bucket: %s, S3Region: %s, FTPUser: %s, SFTPUser: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.OutputDir,
		c.HTTPPrefix,
		c.Workers,
		c.FrameWidth,
		c.FrameHeight,
		c.FPS,
		c.TransitionSec,
		c.BackgroundMix,
		c.S3Provider,
		c.S3Bucket,
		c.S3Region,
		c.FTPUser,
		c.SFTPUser,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
