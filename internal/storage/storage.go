// Package storage reads and writes files addressed by URI. A Router
// dispatches on the URI scheme to one Backend per transport: local disk,
// HTTP(S), FTP, SFTP and S3. It also publishes finished videos to the
// durable output directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/maauso/ffanime/internal/metrics"
)

// Static errors for storage operations.
var (
	// ErrUnsupportedScheme is returned for a URI whose scheme has no backend.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	// ErrNotFound is returned when the addressed object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidURI is returned when a URI cannot be parsed or lacks a path.
	ErrInvalidURI = errors.New("invalid URI")
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
)

// Operation names reported in FetchError and metrics.
const (
	OpFetch = "fetch"
	OpStore = "store"
)

// FetchError reports a failed fetch or store of one URI.
type FetchError struct {
	Op  string
	URI string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, redact(e.URI), e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// redact hides the password of a URI carrying credentials.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	return u.Redacted()
}

// Backend reads and writes objects for the schemes it is registered under.
type Backend interface {
	// Fetch opens the object at u. The caller closes the returned reader.
	Fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error)
	// Store writes data to the object at u, replacing it if present.
	Store(ctx context.Context, u *url.URL, data io.Reader) error
}

// Credentials are used by FTP and SFTP when the URI carries none.
type Credentials struct {
	User     string
	Password string
}

// resolve prefers the user info of u over the defaults.
func (c Credentials) resolve(u *url.URL) Credentials {
	if u.User == nil {
		return c
	}
	out := Credentials{User: u.User.Username()}
	if pw, ok := u.User.Password(); ok {
		out.Password = pw
	}
	return out
}

// Router dispatches URIs to backends by scheme.
type Router struct {
	backends map[string]Backend
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{backends: make(map[string]Backend)}
}

// Register binds b to every scheme in schemes.
func (r *Router) Register(b Backend, schemes ...string) {
	for _, s := range schemes {
		r.backends[strings.ToLower(s)] = b
	}
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	out := make([]string, 0, len(r.backends))
	for s := range r.backends {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// parse accepts absolute local paths as file URIs.
func parse(uri string) (*url.URL, error) {
	if strings.HasPrefix(uri, "/") {
		return &url.URL{Scheme: "file", Path: uri}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}

func (r *Router) backend(uri string) (*url.URL, Backend, error) {
	u, err := parse(uri)
	if err != nil {
		return nil, nil, err
	}
	b, ok := r.backends[u.Scheme]
	if !ok {
		return u, nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return u, b, nil
}

// Fetch opens the object at uri. The caller closes the returned reader.
func (r *Router) Fetch(ctx context.Context, uri string) (_ io.ReadCloser, err error) {
	u, b, err := r.backend(uri)
	defer func() { record(u, OpFetch, err) }()
	if err != nil {
		return nil, &FetchError{Op: OpFetch, URI: uri, Err: err}
	}

	rc, err := b.Fetch(ctx, u)
	if err != nil {
		return nil, &FetchError{Op: OpFetch, URI: uri, Err: err}
	}
	return rc, nil
}

// Store writes data to uri.
func (r *Router) Store(ctx context.Context, uri string, data io.Reader) (err error) {
	u, b, err := r.backend(uri)
	defer func() { record(u, OpStore, err) }()
	if err != nil {
		return &FetchError{Op: OpStore, URI: uri, Err: err}
	}

	if err := b.Store(ctx, u, data); err != nil {
		return &FetchError{Op: OpStore, URI: uri, Err: err}
	}
	return nil
}

// Materialize fetches uri and writes it to dir/name, returning the local path.
// A partially written file is removed on failure.
func (r *Router) Materialize(ctx context.Context, uri, dir, name string) (string, error) {
	rc, err := r.Fetch(ctx, uri)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	dst := filepath.Join(dir, name)
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600) // #nosec G304 - dst is a workspace path
	if err != nil {
		return "", &FetchError{Op: OpFetch, URI: uri, Err: fmt.Errorf("create %s: %w", name, err)}
	}

	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", &FetchError{Op: OpFetch, URI: uri, Err: fmt.Errorf("write %s: %w", name, err)}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return "", &FetchError{Op: OpFetch, URI: uri, Err: fmt.Errorf("close %s: %w", name, err)}
	}
	return dst, nil
}

// BaseName returns the last path element of uri, as used to name the
// materialized copy.
func BaseName(uri string) string {
	u, err := parse(uri)
	if err != nil || u.Path == "" {
		return filepath.Base(uri)
	}
	return filepath.Base(u.Path)
}

func record(u *url.URL, op string, err error) {
	scheme := "unknown"
	switch {
	case errors.Is(err, ErrUnsupportedScheme):
		scheme = "unsupported"
	case u != nil && u.Scheme != "":
		scheme = u.Scheme
	}
	metrics.FetchesTotal.WithLabelValues(scheme, op, metrics.Status(err)).Inc()
}
