package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
)

// LocalBackend implements Backend on local disk for file:// URIs and
// absolute paths.
type LocalBackend struct{}

// NewLocalBackend creates a new LocalBackend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

func localPath(u *url.URL) (string, error) {
	if u.Path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidURI)
	}
	// file://host/path is not supported: only the local machine is.
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("%w: remote file host %q", ErrInvalidURI, u.Host)
	}
	return filepath.Clean(u.Path), nil
}

// Fetch opens the file. The caller is responsible for closing it.
func (b *LocalBackend) Fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	path, err := localPath(u)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by the request owner
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Store writes data next to the target under a temporary name and renames it
// into place, so readers never observe a partial file.
func (b *LocalBackend) Store(ctx context.Context, u *url.URL, data io.Reader) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	path, err := localPath(u)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+"_*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
