package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Jobs.PromptTimeout)
	assert.Equal(t, time.Hour, cfg.Jobs.Retention)
	assert.Equal(t, uint(3), cfg.Jobs.CommitAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
}

func TestLoadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archivist.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 9000\n\n[jobs]\nprompt_timeout = \"5s\"\n"), 0644))

	t.Setenv("ARCHIVIST_JOBS_PROMPT_TIMEOUT", "2s")
	t.Setenv("ARCHIVIST_SERVER_CORS_ORIGINS", "http://a,http://b")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port, "file overrides defaults")
	assert.Equal(t, 2*time.Second, cfg.Jobs.PromptTimeout, "env overrides file")
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8, cfg.Jobs.SizeWorkers, "untouched values keep their defaults")
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("ARCHIVIST_SERVER_PORT", "70000")
	_, err := Load("")
	assert.Error(t, err)
}

func TestCreateConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, CreateConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	assert.Error(t, CreateConfigFile(path), "refuses to overwrite")
}
