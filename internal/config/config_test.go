package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "http://localhost:8000", cfg.BackendURL)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("BACKEND_URL", "https://mas.internal")
	t.Setenv("WS_DIAL_TIMEOUT_MS", "2500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, "https://mas.internal", cfg.BackendURL)
	assert.Equal(t, 2500*time.Millisecond, cfg.DialTimeout)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: 7777\nbackend_url: https://file.example\n"), 0o644))
	t.Setenv("CONSOLE_CONFIG", path)
	t.Setenv("HTTP_PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)
	// File wins over environment when both are set.
	assert.Equal(t, 7777, cfg.HTTPPort)
	assert.Equal(t, "https://file.example", cfg.BackendURL)
}

func TestLoadBadYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))
	t.Setenv("CONSOLE_CONFIG", path)

	_, err := Load()
	assert.Error(t, err)
}
