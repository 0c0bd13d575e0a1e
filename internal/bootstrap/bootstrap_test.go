package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/ffanime/internal/config"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	merged := map[string]string{
		"TEMP_DIR":   filepath.Join(dir, "work"),
		"OUTPUT_DIR": filepath.Join(dir, "out"),
		"WORKERS":    "2",
	}
	for k, v := range env {
		merged[k] = v
	}
	cfg, err := config.LoadFrom(context.Background(), envconfig.MapLookuper(merged))
	require.NoError(t, err)
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDependencies(t *testing.T) {
	cfg := testConfig(t, nil)

	deps, err := NewDependencies(context.Background(), cfg, discard())
	require.NoError(t, err)

	require.NotNil(t, deps.Composer)
	require.NotNil(t, deps.Publisher)
	assert.Equal(t, 2, deps.Pool.Size())
	assert.Equal(t, []string{"file", "ftp", "http", "https", "sftp"}, deps.Router.Schemes())
	assert.Equal(t, cfg.OutputDir, deps.Publisher.OutputDir())
	assert.DirExists(t, cfg.TempDir)
	assert.DirExists(t, cfg.OutputDir)
}

func TestNewDependencies_WithMinio(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"S3_PROVIDER":           "minio",
		"S3_ENDPOINT":           "http://127.0.0.1:9000",
		"S3_BUCKET":             "videos",
		"AWS_ACCESS_KEY_ID":     "minio",
		"AWS_SECRET_ACCESS_KEY": "minio123",
	})

	deps, err := NewDependencies(context.Background(), cfg, discard())
	require.NoError(t, err)
	assert.Contains(t, deps.Router.Schemes(), "s3")
}

func TestNewDependencies_MissingKnownHosts(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"SFTP_KNOWN_HOSTS": filepath.Join(t.TempDir(), "missing_known_hosts"),
	})

	_, err := NewDependencies(context.Background(), cfg, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SFTP")
}
