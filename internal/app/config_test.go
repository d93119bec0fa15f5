package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azyu/talemind/pkg/types"
)

func writeConfig(t *testing.T, body string) *ConfigManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return NewConfigManagerAt(path)
}

func TestLoadGlobalConfig_MissingFileUsesDefaults(t *testing.T) {
	cm := NewConfigManagerAt(filepath.Join(t.TempDir(), "config.yaml"))

	cfg, err := cm.LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Defaults.Provider)
	assert.Equal(t, types.DefaultEngineConfig().GracePeriod, cfg.Engine.GracePeriod)
	assert.NotContains(t, cfg.DataDir, "~")

	again, err := cm.LoadGlobalConfig()
	require.NoError(t, err)
	assert.Same(t, cfg, again)
}

func TestLoadGlobalConfig_Engine(t *testing.T) {
	t.Setenv("TALEMIND_TEST_KEY", "sk-from-env")
	cm := writeConfig(t, `
version: 1
data_dir: /tmp/talemind-data
defaults:
  provider: gemini
providers:
  gemini:
    api_key: ${TALEMIND_TEST_KEY}
    default_model: gemini-2.0-flash
  openai:
    api_key: sk-literal
engine:
  context_limit: 8000
  plot_memory: true
  grace_period: 250ms
  db_path: /tmp/talemind-data/games.db
`)

	cfg, err := cm.LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Providers["gemini"].APIKey)
	assert.Equal(t, "sk-literal", cfg.Providers["openai"].APIKey)
	assert.Equal(t, 8000, cfg.Engine.ContextLimit)
	assert.True(t, cfg.Engine.PlotMemory)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.GracePeriod)
	assert.Equal(t, types.DefaultEngineConfig().IllustrationTimeout, cfg.Engine.IllustrationTimeout, "unset fields take defaults")

	path, err := cm.DBPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/talemind-data/games.db", path)

	p, err := cm.GetProviderConfig("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", p.DefaultModel)
	_, err = cm.GetProviderConfig("anthropic")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestLoadGlobalConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed yaml", body: "engine: [1, 2"},
		{name: "negative limit", body: "engine:\n  context_limit: -1\n"},
		{name: "negative reserve", body: "engine:\n  response_reserve: -5\n"},
		{name: "negative duration", body: "engine:\n  grace_period: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := writeConfig(t, tt.body).LoadGlobalConfig()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDBPath_DefaultsUnderDataDir(t *testing.T) {
	cm := writeConfig(t, "data_dir: /srv/talemind\n")
	path, err := cm.DBPath()
	require.NoError(t, err)
	assert.Equal(t, "/srv/talemind/talemind.db", path)
}

func TestSaveGlobalConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cm := NewConfigManagerAt(path)

	cfg := types.DefaultGlobalConfig()
	cfg.Providers["openai"] = &types.ProviderConfig{APIKey: "sk-test", DefaultModel: "gpt-4o"}
	cfg.Engine.ContextLimit = 6000
	require.NoError(t, cm.SaveGlobalConfig(cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := NewConfigManagerAt(path).LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", loaded.Providers["openai"].APIKey)
	assert.Equal(t, 6000, loaded.Engine.ContextLimit)

	cfg.Engine.ResponseReserve = -1
	assert.ErrorIs(t, cm.SaveGlobalConfig(cfg), ErrInvalidConfig)
}

func TestExpandHelpers(t *testing.T) {
	t.Setenv("TALEMIND_EMPTY", "")
	assert.Equal(t, "", expandEnv("${TALEMIND_EMPTY}"))
	assert.Equal(t, "${partial", expandEnv("${partial"))
	assert.Equal(t, "/abs/path", expandPath("/abs/path"))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), expandPath("~/data"))
}
