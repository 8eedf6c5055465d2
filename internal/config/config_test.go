package config

import (
	"bytes"
	"log/slog"
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

	assert.Equal(t, BackendSheets, cfg.RemoteBackend)
	assert.Equal(t, 30*time.Second, cfg.AutosaveInterval)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 1600, cfg.ImageMaxDimension)
	assert.Equal(t, 70, cfg.ImageQuality)
	assert.Equal(t, 40_000_000, cfg.ImageMaxPixels)
	assert.True(t, cfg.DedupeOnDrain)
	assert.Equal(t, 8484, cfg.ServerPort)
	assert.Len(t, cfg.TokenScopes, 2)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "TestResults!A:Q", cfg.ResultsRange())
	assert.Equal(t, "Assets!A2:Z", cfg.AssetsRange())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ASSETCHECK_REMOTE_BACKEND", "surrealdb")
	t.Setenv("ASSETCHECK_AUTOSAVE_INTERVAL", "5s")
	t.Setenv("ASSETCHECK_DEDUPE_ON_DRAIN", "false")
	t.Setenv("ASSETCHECK_LOG_LEVEL", "debug")
	t.Setenv("ASSETCHECK_SHEET_RESULTS", "Test Results")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendSurrealDB, cfg.RemoteBackend)
	assert.Equal(t, 5*time.Second, cfg.AutosaveInterval)
	assert.False(t, cfg.DedupeOnDrain)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "'Test Results'!A:Q", cfg.ResultsRange())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"ASSETCHECK_REMOTE_BACKEND":    "excel",
		"ASSETCHECK_IMAGE_QUALITY":     "0",
		"ASSETCHECK_IMAGE_MAX_PIXELS":  "100",
		"ASSETCHECK_AUTOSAVE_INTERVAL": "soon",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestNewLoggerFansOut(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := NewLogger("server", slog.LevelInfo, &stderr, &file)
	logger.Debug("hidden")
	logger.Info("queued", "entry", "abc")

	assert.Contains(t, stderr.String(), "entry=abc")
	assert.Contains(t, stderr.String(), "component=server")
	assert.Contains(t, file.String(), `"entry":"abc"`)
	assert.Contains(t, file.String(), `"app":"assetcheck"`)
	assert.NotContains(t, file.String(), "hidden")
}

func TestNewLoggerRedactsSecrets(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := NewLogger("", slog.LevelInfo, &stderr, &file)
	logger.Info("token refreshed", "access_token", "ya29.secret", "expires_in", 3600)

	for _, out := range []string{stderr.String(), file.String()} {
		assert.NotContains(t, out, "ya29.secret")
		assert.Contains(t, out, "[redacted]")
		assert.Contains(t, out, "3600")
	}
	assert.NotContains(t, stderr.String(), "component=")
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "assetcheck.log")
	logger, cleanup := SetupLogger("mcp", path, slog.LevelInfo)
	logger.Info("started")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"mcp"`)
	assert.Contains(t, string(data), `"msg":"started"`)
}
