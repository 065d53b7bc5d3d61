// Package config loads and validates the bookforge configuration:
// a YAML file merged over built-in defaults, with API keys filled
// from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"bookforge/internal/agent"
	"bookforge/internal/storage"
)

type Config struct {
	AI         AIConfig         `yaml:"ai"`
	Paths      PathsConfig      `yaml:"paths"`
	Generation GenerationConfig `yaml:"generation"`
	Continuity ContinuityConfig `yaml:"continuity"`
}

type AIConfig struct {
	APIKey  string `yaml:"api_key" validate:"required,min=20"`
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// Model is the default model; Models overrides it per class.
	Model  string                      `yaml:"model" validate:"required"`
	Models map[agent.ModelClass]string `yaml:"models"`
	// Timeout bounds each provider call, in seconds.
	Timeout int `yaml:"timeout" validate:"required,min=10,max=3600"`
	// Budgets are the per-class rate limits the token limiter enforces.
	Budgets map[agent.ModelClass]agent.ClassBudget `yaml:"budgets"`
}

type PathsConfig struct {
	// DataDir holds the database, checkpoints, and book output.
	DataDir string `yaml:"data_dir" validate:"required"`
	// PromptDir optionally overrides the built-in prompt templates.
	PromptDir string `yaml:"prompt_dir"`
}

// Load reads the config from its default location. A missing file is
// not an error: defaults apply, with the API key taken from the
// environment. An unreadable or invalid file is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := configPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.finish(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return parse(data)
}

// LoadFrom reads the config from an explicit path. Here a missing file
// is an error: the caller asked for that file specifically.
func LoadFrom(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return parse(data)
}

// DataDir resolves the data directory without requiring a complete
// configuration, so commands that only inspect local state work before
// an API key is set. An empty path means the default config location.
func DataDir(path string) (string, error) {
	if path == "" {
		path = configPath()
	}
	cfg := Default()
	if data, err := os.ReadFile(path); err == nil {
		// A malformed file is ignored here; Load reports it properly.
		_ = yaml.Unmarshal(data, cfg)
	}
	if cfg.Paths.DataDir != "" {
		return expandTilde(cfg.Paths.DataDir), nil
	}
	return storage.DefaultDataDir()
}

func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish fills environment-sourced and derived values, then validates.
func (c *Config) finish() error {
	if c.AI.APIKey == "" || strings.HasPrefix(c.AI.APIKey, "${") {
		c.AI.APIKey = apiKeyFromEnv()
	}

	if c.Paths.DataDir == "" {
		dir, err := storage.DefaultDataDir()
		if err != nil {
			return fmt.Errorf("resolving data directory: %w", err)
		}
		c.Paths.DataDir = dir
	} else {
		c.Paths.DataDir = expandTilde(c.Paths.DataDir)
	}
	if c.Paths.PromptDir != "" {
		c.Paths.PromptDir = expandTilde(c.Paths.PromptDir)
	}

	return c.validate()
}

func apiKeyFromEnv() string {
	for _, name := range []string{"BOOKFORGE_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY"} {
		if key := os.Getenv(name); key != "" {
			return key
		}
	}
	return ""
}

func configPath() string {
	if path := os.Getenv("BOOKFORGE_CONFIG"); path != "" {
		return path
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "bookforge", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bookforge", "config.yaml")
}

// expandTilde expands a leading ~/ to the user's home directory.
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c *Config) validate() error {
	v := validator.New()
	v.RegisterStructValidation(validateThresholdOrder, GenerationConfig{})

	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	for class, b := range c.AI.Budgets {
		if b.TokensPerMinute < 0 || b.RequestsPerMinute < 0 || b.BurstTokens < 0 || b.BurstRequests < 0 {
			return fmt.Errorf("config validation failed: budget for class %q has a negative limit", class)
		}
	}
	return nil
}

// validateThresholdOrder enforces RejectBelow < PolishAt; the band
// between them is where content is accepted as written.
func validateThresholdOrder(sl validator.StructLevel) {
	g := sl.Current().Interface().(GenerationConfig)
	if g.RejectBelow >= g.PolishAt {
		sl.ReportError(g.PolishAt, "PolishAt", "polish_at", "threshold_order", "")
	}
}
