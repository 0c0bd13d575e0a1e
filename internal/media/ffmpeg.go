package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maauso/ffanime/internal/effect"
	"github.com/maauso/ffanime/internal/metrics"
)

// Static errors for media operations.
var (
	// ErrInvalidDimensions is returned when the configured frame size is not positive.
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive")
	// ErrInvalidFrameRate is returned when the configured frame rate is not positive.
	ErrInvalidFrameRate = errors.New("invalid frame rate: must be positive")
	// ErrInvalidTransition is returned when the configured transition length is not positive.
	ErrInvalidTransition = errors.New("invalid transition: must be positive")
	// ErrNoClips is returned when Concat is called without clips.
	ErrNoClips = errors.New("no clips provided")
	// ErrOutputMissing is returned when ffmpeg exits cleanly but leaves no output behind.
	ErrOutputMissing = errors.New("output file missing or empty")
	// ErrUnknownPadMode is returned for a PadMode outside the defined set.
	ErrUnknownPadMode = errors.New("unknown pad mode")
	// ErrUnknownMixMode is returned for a MixMode outside the defined set.
	ErrUnknownMixMode = errors.New("unknown mix mode")
)

// Operation labels used in errors and metrics.
const (
	opRender         = "render"
	opAttachAudio    = "attach_audio"
	opAttachSubtitle = "attach_subtitle"
	opConcat         = "concat"
	opSplice         = "splice"
	opCover          = "cover"
	opProbe          = "probe"
)

// Config holds the encoding parameters shared by every stage.
type Config struct {
	// FFmpegPath is the ffmpeg binary. Defaults to "ffmpeg" (found via PATH).
	FFmpegPath string
	// FFprobePath is the ffprobe binary. Defaults to "ffprobe".
	FFprobePath string

	// Size is the rendered frame size. Default: 4096x2304
	Size effect.Size
	// FPS is the rendered frame rate. Default: 25
	FPS int

	// VideoCodec is used whenever video is re-encoded. Default: libx264
	VideoCodec string
	// VideoPreset controls the encoding speed/quality tradeoff. Default: fast
	VideoPreset string
	// AudioCodec is used whenever audio is re-encoded. Default: aac
	AudioCodec string
	// AudioSampleRate is the sample rate audio is normalized to when
	// splicing. Default: 44100
	AudioSampleRate int

	// Transition is the crossfade length used by Splice, in seconds. Default: 1
	Transition float64
	// BackgroundMix is applied by AttachAudio in RepeatPad mode. Default: mix
	BackgroundMix MixMode

	// Effects is the enabled effect subset. Nil means effect.Defaults().
	Effects *effect.Catalog
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		Size:            effect.Size{Width: 4096, Height: 2304},
		FPS:             25,
		VideoCodec:      "libx264",
		VideoPreset:     "fast",
		AudioCodec:      "aac",
		AudioSampleRate: 44100,
		Transition:      1.0,
		BackgroundMix:   MixBlend,
	}
}

// Runner executes an external command with dir as its working directory and
// returns what it wrote to stdout and stderr.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	// #nosec G204 - binary paths are set by the application, not user input
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	cfg    Config
	runner Runner
	src    effect.Source
	logger *slog.Logger
}

// Compile-time verification that FFmpegProcessor implements Processor.
var _ Processor = (*FFmpegProcessor)(nil)

// Option configures an FFmpegProcessor.
type Option func(*FFmpegProcessor)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(p *FFmpegProcessor) {
		p.runner = r
	}
}

// WithRandSource sets the randomness used to pick effects. Renders run
// concurrently, so draws from src are serialized.
func WithRandSource(src effect.Source) Option {
	return func(p *FFmpegProcessor) {
		p.src = effect.Locked(src)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *FFmpegProcessor) {
		p.logger = l
	}
}

// NewFFmpegProcessor creates a new FFmpegProcessor. Empty fields of cfg take
// their DefaultConfig value.
func NewFFmpegProcessor(cfg Config, opts ...Option) (*FFmpegProcessor, error) {
	cfg = withDefaults(cfg)
	if !cfg.Size.Valid() {
		return nil, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, cfg.Size.Width, cfg.Size.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFrameRate, cfg.FPS)
	}
	if cfg.Transition <= 0 {
		return nil, fmt.Errorf("%w: got %.2f", ErrInvalidTransition, cfg.Transition)
	}
	if _, err := ParseMixMode(string(cfg.BackgroundMix)); err != nil {
		return nil, err
	}
	if cfg.Effects == nil {
		catalog, err := effect.NewCatalog(effect.Defaults())
		if err != nil {
			return nil, err
		}
		cfg.Effects = catalog
	}

	p := &FFmpegProcessor{
		cfg:    cfg,
		runner: execRunner{},
		src:    effect.GlobalSource(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = def.FFprobePath
	}
	if cfg.Size == (effect.Size{}) {
		cfg.Size = def.Size
	}
	if cfg.FPS == 0 {
		cfg.FPS = def.FPS
	}
	if cfg.VideoCodec == "" {
		cfg.VideoCodec = def.VideoCodec
	}
	if cfg.VideoPreset == "" {
		cfg.VideoPreset = def.VideoPreset
	}
	if cfg.AudioCodec == "" {
		cfg.AudioCodec = def.AudioCodec
	}
	if cfg.AudioSampleRate == 0 {
		cfg.AudioSampleRate = def.AudioSampleRate
	}
	if cfg.Transition == 0 {
		cfg.Transition = def.Transition
	}
	if cfg.BackgroundMix == "" {
		cfg.BackgroundMix = def.BackgroundMix
	}
	return cfg
}

// Config returns the effective configuration.
func (p *FFmpegProcessor) Config() Config {
	return p.cfg
}

// runFFmpeg executes ffmpeg in dir and verifies that output was produced.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, op, dir, output string, args []string) (err error) {
	defer func() {
		metrics.TranscoderRunsTotal.WithLabelValues(op, metrics.Status(err)).Inc()
	}()

	full := make([]string, 0, len(args)+3)
	full = append(full, "-hide_banner", "-y")
	full = append(full, args...)

	_, stderr, runErr := p.runner.Run(ctx, dir, p.cfg.FFmpegPath, full...)
	if runErr != nil {
		if ctx.Err() != nil {
			runErr = fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &TranscodeError{Op: op, Args: full, Stderr: string(stderr), Err: runErr}
	}

	if err := checkOutput(output); err != nil {
		return &TranscodeError{Op: op, Args: full, Stderr: string(stderr), Err: err}
	}
	return nil
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrOutputMissing, path)
	}
	return nil
}

// TranscodeError represents a failed ffmpeg or ffprobe run, including the
// stderr output.
type TranscodeError struct {
	Op     string
	Args   []string
	Stderr string
	Err    error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("%s failed: %v\nargs: %v\nstderr: %s", e.Op, e.Err, e.Args, e.Stderr)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe returns the container duration in seconds and whether the file
// carries an audio stream.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (_ Info, err error) {
	defer func() {
		metrics.TranscoderRunsTotal.WithLabelValues(opProbe, metrics.Status(err)).Inc()
	}()

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type",
		"-of", "json",
		path,
	}

	stdout, stderr, err := p.runner.Run(ctx, "", p.cfg.FFprobePath, args...)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Info{}, &TranscodeError{Op: opProbe, Args: args, Stderr: string(stderr), Err: err}
	}

	var out probeOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return Info{}, fmt.Errorf("parse probe output for %s: %w", path, err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil {
		return Info{}, fmt.Errorf("parse duration for %s: %w", path, err)
	}

	info := Info{Duration: duration}
	for _, s := range out.Streams {
		if s.CodecType == "audio" {
			info.HasAudio = true
			break
		}
	}
	return info, nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - src is a workspace path built by the application
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination file: %w", err)
	}
	return nil
}

// createConcatList writes the concat demuxer manifest into dir. Entries that
// live in dir are written by base name so the list resolves relative to it.
func createConcatList(dir string, paths []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, path := range paths {
		entry := path
		if filepath.Dir(path) == dir {
			entry = filepath.Base(path)
		}
		// Escape single quotes in path
		escaped := strings.ReplaceAll(entry, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			_ = os.Remove(f.Name())
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}

	return f.Name(), nil
}

// absPath resolves path against the process working directory, since each
// ffmpeg run uses its output directory as cwd.
func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// seconds formats a duration for filter arguments.
func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
