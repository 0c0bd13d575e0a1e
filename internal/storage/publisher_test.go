package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, key string, data io.Reader) (string, error) {
	body, _ := io.ReadAll(data)
	args := m.Called(ctx, key, string(body))
	return args.String(0), args.Error(1)
}

var fixedNow = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC) }

func workspaceOutput(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "cover_final.mp4")
	require.NoError(t, os.WriteFile(src, []byte("final video"), 0600))
	return src
}

func TestNewPublisher(t *testing.T) {
	_, err := NewPublisher(PublisherConfig{})
	assert.ErrorIs(t, err, ErrOutputDirRequired)

	out := filepath.Join(t.TempDir(), "out")
	p, err := NewPublisher(PublisherConfig{OutputDir: out})
	require.NoError(t, err)
	assert.Equal(t, out, p.OutputDir())
	assert.DirExists(t, out)
}

func TestPublisher_URLResponse(t *testing.T) {
	out := t.TempDir()
	p, err := NewPublisher(PublisherConfig{OutputDir: out, HTTPPrefix: "http://media.local:8686/"}, WithClock(fixedNow))
	require.NoError(t, err)

	got, err := p.Publish(context.Background(), workspaceOutput(t), PublishOptions{Name: "job-1"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "20261018", "job-1.mp4"), got.Path)
	assert.Equal(t, "http://media.local:8686/data/20261018/job-1.mp4", got.Location)

	data, err := os.ReadFile(got.Path)
	require.NoError(t, err)
	assert.Equal(t, "final video", string(data))
}

func TestPublisher_PathResponse(t *testing.T) {
	out := t.TempDir()

	t.Run("defaults to output dir", func(t *testing.T) {
		p, err := NewPublisher(PublisherConfig{OutputDir: out}, WithClock(fixedNow))
		require.NoError(t, err)

		got, err := p.Publish(context.Background(), workspaceOutput(t), PublishOptions{Name: "a", ResponseType: ResponsePath})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(out, "20261018", "a.mp4"), got.Location)
	})

	t.Run("custom prefix", func(t *testing.T) {
		p, err := NewPublisher(PublisherConfig{OutputDir: out, PathPrefix: "/mnt/media/"}, WithClock(fixedNow))
		require.NoError(t, err)

		got, err := p.Publish(context.Background(), workspaceOutput(t), PublishOptions{Name: "b", ResponseType: ResponsePath})
		require.NoError(t, err)
		assert.Equal(t, "/mnt/media/20261018/b.mp4", got.Location)
	})
}

func TestPublisher_PushToS3(t *testing.T) {
	out := t.TempDir()

	t.Run("not configured", func(t *testing.T) {
		p, err := NewPublisher(PublisherConfig{OutputDir: out})
		require.NoError(t, err)

		_, err = p.Publish(context.Background(), workspaceOutput(t), PublishOptions{Name: "x", PushToS3: true})
		assert.ErrorIs(t, err, ErrS3NotConfigured)
	})

	t.Run("uploads and returns object URL", func(t *testing.T) {
		up := &mockUploader{}
		up.On("Upload", mock.Anything, "20261018/job-2.mp4", "final video").
			Return("https://videos.s3.us-east-1.amazonaws.com/20261018/job-2.mp4", nil)

		p, err := NewPublisher(PublisherConfig{OutputDir: out}, WithClock(fixedNow), WithUploader(up))
		require.NoError(t, err)

		got, err := p.Publish(context.Background(), workspaceOutput(t), PublishOptions{Name: "job-2", PushToS3: true})
		require.NoError(t, err)
		assert.Equal(t, "https://videos.s3.us-east-1.amazonaws.com/20261018/job-2.mp4", got.Location)
		assert.FileExists(t, got.Path)
		up.AssertExpectations(t)
	})

	t.Run("upload failure", func(t *testing.T) {
		up := &mockUploader{}
		up.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("access denied"))

		p, err := NewPublisher(PublisherConfig{OutputDir: out}, WithClock(fixedNow), WithUploader(up))
		require.NoError(t, err)

		_, err = p.Publish(context.Background(), workspaceOutput(t), PublishOptions{Name: "job-3", PushToS3: true})
		assert.EqualError(t, err, "access denied")
		assert.NoFileExists(t, filepath.Join(out, "20261018", "job-3.mp4"))
	})
}

func TestPublisher_UnknownResponseType(t *testing.T) {
	p, err := NewPublisher(PublisherConfig{OutputDir: t.TempDir()})
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), workspaceOutput(t), PublishOptions{Name: "x", ResponseType: "base64"})
	assert.ErrorIs(t, err, ErrUnknownResponseType)
}

func TestPublisher_MissingSource(t *testing.T) {
	out := t.TempDir()
	p, err := NewPublisher(PublisherConfig{OutputDir: out}, WithClock(fixedNow))
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), PublishOptions{Name: "x"})
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(out, "20261018", "x.mp4"))
}
