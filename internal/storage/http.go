package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Static errors for HTTP operations.
var (
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("http: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("http: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("http: request failed")
)

// HTTPBackend implements Backend over HTTP(S): GET to fetch, PUT to store.
// Transient failures are retried with exponential backoff.
type HTTPBackend struct {
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// HTTPOption is a function that configures an HTTPBackend.
type HTTPOption func(*HTTPBackend)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		b.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) HTTPOption {
	return func(b *HTTPBackend) {
		b.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) HTTPOption {
	return func(b *HTTPBackend) {
		b.baseBackoff = d
	}
}

// NewHTTPBackend creates a new HTTPBackend.
func NewHTTPBackend(opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		// No overall timeout: large media bodies are streamed and bounded by ctx.
		httpClient:  &http.Client{},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fetch downloads the object. The caller closes the returned body.
func (b *HTTPBackend) Fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := b.withRetry(ctx, func() error {
		resp, err := b.do(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Store uploads data with PUT. A seekable data is rewound between attempts;
// otherwise it is buffered so a retry can resend it.
func (b *HTTPBackend) Store(ctx context.Context, u *url.URL, data io.Reader) error {
	seeker, ok := data.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(data)
		if err != nil {
			return fmt.Errorf("http: read body: %w", err)
		}
		seeker = bytes.NewReader(buf)
	}

	return b.withRetry(ctx, func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("http: rewind body: %w", err)
		}
		resp, err := b.do(ctx, http.MethodPut, u, io.NopCloser(seeker))
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Body.Close()
	})
}

// withRetry runs fn with exponential backoff while it fails retryably.
func (b *HTTPBackend) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := b.baseBackoff

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("http: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		// Check if error is retryable
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("http: max retries exceeded: %w", lastErr)
}

// do performs a single request. On success the caller owns resp.Body; any
// non-2xx response is drained, closed and turned into an error.
func (b *HTTPBackend) do(ctx context.Context, method string, u *url.URL, body io.ReadCloser) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("http: create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("http: request cancelled: %w", ctx.Err())
		}
		return nil, &retryableError{err: fmt.Errorf("http: request failed: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u.Redacted())
	case resp.StatusCode >= 500:
		// 5xx errors are retryable
		return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(msg))}
	case resp.StatusCode == http.StatusTooManyRequests:
		// 429 (rate limit) is retryable
		return nil, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(msg))}
	default:
		// Other errors are not retryable
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(msg))
	}
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
