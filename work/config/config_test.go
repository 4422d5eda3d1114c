package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"nowshowing/work/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadFrom points the loader at a config file (or a missing path) and resets
// the singleton around it.
func loadFrom(t *testing.T, path string) *config.Config {
	t.Helper()
	t.Setenv("NOWSHOWING_CONFIG", path)
	config.ClearConfigCache()
	t.Cleanup(config.ClearConfigCache)
	return config.LoadConfig()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg := loadFrom(t, filepath.Join(t.TempDir(), "missing.json"))

	assert.Equal(t, 8080, cfg.ListenPort)
	assert.Equal(t, 8, cfg.WorkerThreads)
	assert.Equal(t, "VidSrc.to", cfg.DefaultProvider)
	assert.Equal(t, "Mozilla/5.0 (compatible; NowShowing/1.0)", cfg.UserAgent)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 6*time.Second, cfg.WatchdogDelay)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.ProbeCacheOK)
	assert.Equal(t, time.Minute, cfg.ProbeCacheFail)
	assert.Equal(t, 20, cfg.ProbesPerSecond)
}

func TestLoadConfigParsesDurations(t *testing.T) {
	path := writeConfig(t, `{
		"listenPort": 9090,
		"defaultProvider": "SuperEmbed",
		"probeTimeout": "3s",
		"watchdogDelay": "10s",
		"sessionTTL": "1h",
		"obfuscateUrls": true
	}`)

	cfg := loadFrom(t, path)

	assert.Equal(t, 9090, cfg.ListenPort)
	assert.Equal(t, "SuperEmbed", cfg.DefaultProvider)
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 10*time.Second, cfg.WatchdogDelay)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.ObfuscateUrls)

	// Durations the file omits pick up defaults.
	assert.Equal(t, 5*time.Minute, cfg.ProbeCacheOK)
}

func TestLoadConfigFallsBackOnInvalidDuration(t *testing.T) {
	path := writeConfig(t, `{"probeTimeout": "not-a-duration"}`)

	cfg := loadFrom(t, path)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout, "invalid file falls back to defaults")
}

func TestLoadConfigFallsBackOnBrokenJSON(t *testing.T) {
	path := writeConfig(t, `{broken`)

	cfg := loadFrom(t, path)
	assert.Equal(t, 8080, cfg.ListenPort)
}

func TestLoadConfigEnvAPIKeyOverride(t *testing.T) {
	t.Setenv("OMDB_API_KEY", "env-omdb-key")
	t.Setenv("GNEWS_API_KEY", "env-gnews-key")

	cfg := loadFrom(t, filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, "env-omdb-key", cfg.OMDbAPIKey)
	assert.Equal(t, "env-gnews-key", cfg.GNewsAPIKey)
}

func TestLoadConfigIsCached(t *testing.T) {
	path := writeConfig(t, `{"listenPort": 9191}`)

	first := loadFrom(t, path)
	second := config.LoadConfig()
	assert.Same(t, first, second)

	config.ClearConfigCache()
	third := config.LoadConfig()
	assert.NotSame(t, first, third)
	assert.Equal(t, 9191, third.ListenPort)
}
