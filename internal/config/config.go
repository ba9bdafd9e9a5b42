// Package config loads CLI configuration from ~/.palaver/config.yaml
// with PALAVER_* environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for palaver.
type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Console  ConsoleConfig  `mapstructure:"console"`
	Log      LogConfig      `mapstructure:"log"`
}

// ProviderConfig selects and parameterizes the model backend.
type ProviderConfig struct {
	Kind        string  `mapstructure:"kind"`        // "openai", "azure", or "ollama"
	Model       string  `mapstructure:"model"`       // model or deployment name
	APIKey      string  `mapstructure:"api_key"`     // API key, for openai and azure
	BaseURL     string  `mapstructure:"base_url"`    // custom base URL
	Endpoint    string  `mapstructure:"endpoint"`    // azure resource endpoint
	APIVersion  string  `mapstructure:"api_version"` // azure API version
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ConsoleConfig holds REPL preferences.
type ConsoleConfig struct {
	Stream         bool   `mapstructure:"stream"`          // stream responses as they arrive
	RenderMarkdown bool   `mapstructure:"render_markdown"` // render replies as terminal markdown
	SystemPrompt   string `mapstructure:"system_prompt"`   // default system prompt
}

// LogConfig controls engine logging.
type LogConfig struct {
	Level string `mapstructure:"level"` // "debug", "info", "warn", "error"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Kind:        "openai",
			Model:       "gpt-4o",
			Temperature: 0.7,
		},
		Console: ConsoleConfig{
			Stream:         true,
			RenderMarkdown: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the default path, if it exists, then
// applies PALAVER_* environment overrides.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home dir: %w", err)
	}
	return LoadFrom(filepath.Join(home, ".palaver", "config.yaml"))
}

// LoadFrom reads configuration from an explicit path. A missing file is
// not an error; defaults and environment still apply.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("PALAVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key with viper; AutomaticEnv only sees
// keys it already knows about.
func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("provider.kind", def.Provider.Kind)
	v.SetDefault("provider.model", def.Provider.Model)
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.endpoint", "")
	v.SetDefault("provider.api_version", "")
	v.SetDefault("provider.temperature", def.Provider.Temperature)
	v.SetDefault("provider.max_tokens", def.Provider.MaxTokens)
	v.SetDefault("console.stream", def.Console.Stream)
	v.SetDefault("console.render_markdown", def.Console.RenderMarkdown)
	v.SetDefault("console.system_prompt", "")
	v.SetDefault("log.level", def.Log.Level)
}
