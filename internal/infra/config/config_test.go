package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "port: \"9090\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3, cfg.Download.MaxConcurrent)
	assert.Equal(t, 3, cfg.Download.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.Intervals.Pending)
	assert.Equal(t, time.Minute, cfg.Intervals.Schedule)
	assert.Equal(t, 500*time.Millisecond, cfg.Intervals.Flush)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, path, cfg.FileUsed())
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
download:
  folder: /data
  max_concurrent: 1
  max_retries: 5
  auto_rename: true
intervals:
  pending: 250ms
on_completion:
  command: "echo done"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data", cfg.Download.Folder)
	assert.Equal(t, 1, cfg.Download.MaxConcurrent)
	assert.Equal(t, 5, cfg.Download.MaxRetries)
	assert.True(t, cfg.Download.AutoRename)
	assert.Equal(t, 250*time.Millisecond, cfg.Intervals.Pending)
	assert.Equal(t, "echo done", cfg.OnCompletion.Command)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "download:\n  max_concurrent: 2\n")
	t.Setenv("DLQUEUE_DOWNLOAD_MAX_CONCURRENT", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Download.MaxConcurrent)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative retries", "download:\n  max_retries: -1\n"},
		{"unknown driver", "store:\n  driver: mongo\n"},
		{"postgres without dsn", "store:\n  driver: postgres\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}
