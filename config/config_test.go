package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Presence.OnlineThreshold)
	assert.Equal(t, 60*time.Second, cfg.Presence.HeartbeatInterval)
	assert.Equal(t, 90*time.Second, cfg.Presence.MirrorTTL)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Database.SlowQuery)
	assert.Empty(t, cfg.Security.JWTSecret)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("server:\n  port: 9191\npresence:\n  online_threshold: 2m\nsecurity:\n  allowed_origins: [\"https://ideahub.example\"]\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Presence.OnlineThreshold)
	assert.Equal(t, []string{"https://ideahub.example"}, cfg.Security.AllowedOrigins)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600))
	t.Setenv("IDEAHUB_SERVER_PORT", "7070")
	t.Setenv("IDEAHUB_DATABASE_MODE", "postgres")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Mode)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [::"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
