package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig_PassesValidation(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Session.MaxConcurrentSessions)
	assert.Equal(t, time.Hour, cfg.Queue.MaxTimeout)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig().Session.MaxConcurrentSessions, cfg.Session.MaxConcurrentSessions)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig(), cfg)
}

func TestLoad_OverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.json")
	content := `{"session":{"maxConcurrentSessions":5},"logging":{"level":"debug"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Session.MaxConcurrentSessions)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unspecified keys keep their defaults.
	assert.Equal(t, NewDefaultConfig().Queue.MaxTimeout, cfg.Queue.MaxTimeout)
}

func TestValidate_RejectsTimeoutAboveCeiling(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Queue.ComplexTimeout = 2 * time.Hour
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxTimeout")
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Logging.Level = "verbose"
	err := cfg.Validate()
	require.Error(t, err)
}

func TestSaveToFile_RoundTrips(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Session.MaxConcurrentSessions = 42
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Session.MaxConcurrentSessions)
}
