package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Provider.Kind, cfg.Provider.Kind)
	assert.Equal(t, def.Provider.Model, cfg.Provider.Model)
	assert.True(t, cfg.Console.Stream)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
provider:
  kind: ollama
  model: llama3
  base_url: http://box:11434/v1
  temperature: 0.2
console:
  stream: false
  system_prompt: be terse
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Provider.Kind)
	assert.Equal(t, "llama3", cfg.Provider.Model)
	assert.Equal(t, "http://box:11434/v1", cfg.Provider.BaseURL)
	assert.InDelta(t, 0.2, cfg.Provider.Temperature, 1e-6)
	assert.False(t, cfg.Console.Stream)
	assert.Equal(t, "be terse", cfg.Console.SystemPrompt)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PALAVER_PROVIDER_MODEL", "gpt-4o-mini")
	t.Setenv("PALAVER_PROVIDER_API_KEY", "sk-test")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
}

func TestLoadFromRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [not: closed"), 0o644))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}
