package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Response types selecting how a published output is addressed.
const (
	ResponseURL  = "url"
	ResponsePath = "path"
)

// Static errors for publishing.
var (
	// ErrUnknownResponseType is returned for a response type other than url or path.
	ErrUnknownResponseType = errors.New("unknown response type")
	// ErrOutputDirRequired is returned when no durable output directory is configured.
	ErrOutputDirRequired = errors.New("output directory is required")
)

// Uploader pushes a published file to remote object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader) (string, error)
}

// PublisherConfig holds the output layout.
type PublisherConfig struct {
	// OutputDir is the durable root; files land in OutputDir/<YYYYMMDD>/.
	OutputDir string
	// HTTPPrefix is the public base URL under which OutputDir is served at /data.
	HTTPPrefix string
	// PathPrefix replaces OutputDir in path responses. Defaults to OutputDir.
	PathPrefix string
}

// PublishOptions select the name and addressing of one output.
type PublishOptions struct {
	// Name is the file name without extension.
	Name string
	// ResponseType is ResponseURL (default) or ResponsePath.
	ResponseType string
	// PushToS3 also uploads the file and returns its S3 URL.
	PushToS3 bool
}

// Published describes a file copied to durable storage.
type Published struct {
	// Path is the local durable location.
	Path string
	// Location is the address handed back to the requester.
	Location string
}

// Publisher copies finished videos out of a workspace into durable storage.
type Publisher struct {
	cfg      PublisherConfig
	uploader Uploader
	now      func() time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithUploader enables PushToS3.
func WithUploader(u Uploader) PublisherOption {
	return func(p *Publisher) {
		p.uploader = u
	}
}

// WithClock overrides the clock used for the date directory.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		p.now = now
	}
}

// NewPublisher creates a new Publisher. The output directory is created if
// it doesn't exist.
func NewPublisher(cfg PublisherConfig, opts ...PublisherOption) (*Publisher, error) {
	if cfg.OutputDir == "" {
		return nil, ErrOutputDirRequired
	}
	if err := os.MkdirAll(cfg.OutputDir, 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = cfg.OutputDir
	}
	cfg.HTTPPrefix = strings.TrimSuffix(cfg.HTTPPrefix, "/")
	cfg.PathPrefix = strings.TrimSuffix(cfg.PathPrefix, "/")

	p := &Publisher{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// OutputDir returns the durable root directory.
func (p *Publisher) OutputDir() string {
	return p.cfg.OutputDir
}

// Publish copies localPath to OutputDir/<YYYYMMDD>/<name><ext> and returns
// where the requester can find it.
func (p *Publisher) Publish(ctx context.Context, localPath string, opts PublishOptions) (Published, error) {
	responseType := opts.ResponseType
	if responseType == "" {
		responseType = ResponseURL
	}
	if responseType != ResponseURL && responseType != ResponsePath {
		return Published{}, fmt.Errorf("%w: %q", ErrUnknownResponseType, opts.ResponseType)
	}
	if opts.PushToS3 && p.uploader == nil {
		return Published{}, ErrS3NotConfigured
	}

	date := p.now().Format("20060102")
	file := opts.Name + filepath.Ext(localPath)
	dst := filepath.Join(p.cfg.OutputDir, date, file)

	src, err := os.Open(localPath) // #nosec G304 - localPath is a workspace path
	if err != nil {
		return Published{}, fmt.Errorf("open output: %w", err)
	}
	defer func() { _ = src.Close() }()

	if err := writeAtomic(dst, src); err != nil {
		return Published{}, fmt.Errorf("publish output: %w", err)
	}

	out := Published{Path: dst}
	switch {
	case opts.PushToS3:
		u, err := p.upload(ctx, dst, path.Join(date, file))
		if err != nil {
			// A failed push leaves nothing behind.
			_ = os.Remove(dst)
			return Published{}, err
		}
		out.Location = u
	case responseType == ResponsePath:
		out.Location = path.Join(p.cfg.PathPrefix, date, file)
	default:
		out.Location = p.cfg.HTTPPrefix + "/data/" + date + "/" + file
	}
	return out, nil
}

func (p *Publisher) upload(ctx context.Context, dst, key string) (string, error) {
	f, err := os.Open(dst) // #nosec G304
	if err != nil {
		return "", fmt.Errorf("open published output: %w", err)
	}
	defer func() { _ = f.Close() }()
	return p.uploader.Upload(ctx, key, f)
}
