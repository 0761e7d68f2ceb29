package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anilymngl/codemind/pkg/orchestrator"
	"github.com/anilymngl/codemind/pkg/providers"
	"github.com/anilymngl/codemind/pkg/ratelimit"
	"github.com/anilymngl/codemind/pkg/sandbox"
)

const (
	// Dir holds the config file, logs and prompt overrides.
	Dir      = ".codemind"
	FileName = "config.yaml"
)

// StageConfig configures one model stage. Credentials are never read from
// the file.
type StageConfig struct {
	Provider    string           `yaml:"provider"`
	Model       string           `yaml:"model,omitempty"`
	BaseURL     string           `yaml:"base_url,omitempty"`
	Timeout     time.Duration    `yaml:"timeout,omitempty"`
	Temperature float64          `yaml:"temperature"`
	MaxTokens   int              `yaml:"max_tokens"`
	RateLimit   ratelimit.Config `yaml:"rate_limit"`
}

// Service returns the provider settings for this stage with apiKey filled in.
func (s StageConfig) Service(apiKey string) providers.Config {
	return providers.Config{
		Provider: s.Provider,
		Model:    s.Model,
		APIKey:   apiKey,
		BaseURL:  s.BaseURL,
		Timeout:  s.Timeout,
	}
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Config struct {
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Reasoning    StageConfig         `yaml:"reasoning"`
	Synthesis    StageConfig         `yaml:"synthesis"`
	Sandbox      sandbox.Config      `yaml:"sandbox"`
	Server       ServerConfig        `yaml:"server"`
	JSONLogs     bool                `yaml:"json_logs"`

	// Source is the file the config was read from, empty for defaults.
	Source string `yaml:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		Orchestrator: orchestrator.DefaultConfig(),
		Reasoning: StageConfig{
			Provider:    providers.Gemini,
			Temperature: 0.7,
			MaxTokens:   8192,
			RateLimit:   ratelimit.DefaultConfig(),
		},
		Synthesis: StageConfig{
			Provider:    providers.Anthropic,
			Temperature: 0.2,
			MaxTokens:   4096,
			RateLimit:   ratelimit.DefaultConfig(),
		},
		Sandbox: sandbox.DefaultConfig(),
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

func getHomeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, Dir, FileName)
}

func getCurrentConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, Dir, FileName)
}

// CurrentConfigPath is where Save writes by default.
func CurrentConfigPath() string { return getCurrentConfigPath() }

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// fields absent from the file keep their defaults
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Source = path
	return cfg, nil
}

// Load reads path, or when path is empty the project config and then the
// home config. No file at all yields the defaults. Environment overrides
// are applied last and the result is validated.
func Load(path string) (*Config, error) {
	cfg, err := find(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func find(path string) (*Config, error) {
	if path != "" {
		return loadConfig(path)
	}
	for _, candidate := range []string{getCurrentConfigPath(), getHomeConfigPath()} {
		if candidate == "" {
			continue
		}
		cfg, err := loadConfig(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return cfg, err
	}
	return DefaultConfig(), nil
}

// Save writes cfg as YAML, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
