package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, int64(50*1024*1024), cfg.Upload.MaxBytes)
	assert.Equal(t, 100, cfg.Upload.MaxParts)
	assert.Equal(t, 4, cfg.Pipeline.WorkerConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.RequestTimeout)
}

func TestLoad(t *testing.T) {
	t.Run("Should overlay yaml file over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
upload:
  max_bytes: 1048576
  max_parts: 10
  max_header_bytes: 4096
  sample_bytes: 2048
pipeline:
  worker_concurrency: 8
  request_timeout: 30s
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, int64(1048576), cfg.Upload.MaxBytes)
		assert.Equal(t, 10, cfg.Upload.MaxParts)
		assert.Equal(t, 8, cfg.Pipeline.WorkerConcurrency)
		assert.Equal(t, 30*time.Second, cfg.Pipeline.RequestTimeout)
		// untouched sections keep defaults
		assert.Equal(t, 7878, cfg.Server.Port)
	})

	t.Run("Should prefer environment variables over file", func(t *testing.T) {
		t.Setenv("WORKERS", "16")
		t.Setenv("UPLOAD_MAX_BYTES", "2048")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, 16, cfg.Pipeline.WorkerConcurrency)
		assert.Equal(t, int64(2048), cfg.Upload.MaxBytes)
	})

	t.Run("Should reject invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  worker_concurrency: -1\n"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("Should ignore missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default().Upload, cfg.Upload)
	})
}

func TestWatcherSnapshot(t *testing.T) {
	cfg := Default()
	w, err := NewWatcher("", cfg, zap.NewNop())
	require.NoError(t, err)

	limits := w.Limits()
	assert.Equal(t, cfg.Upload, limits.Upload)
	assert.Equal(t, cfg.Pipeline, limits.Pipeline)
}
