package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models dualtext.yml.
type Config struct {
	Claim struct {
		// MaxRetries bounds how often a busy claim or update transaction is retried.
		MaxRetries     int           `yaml:"max_retries"`
		RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
		// LockWait bounds one transaction attempt, lock wait included.
		LockWait time.Duration `yaml:"lock_wait"`
	} `yaml:"claim"`
	Store struct {
		BusyTimeout time.Duration `yaml:"busy_timeout"`
	} `yaml:"store"`
	Features struct {
		Workers int               `yaml:"workers"`
		Aliases map[string]string `yaml:"aliases"`
	} `yaml:"features"`
	Stats struct {
		FailOnMismatch bool `yaml:"fail_on_mismatch"`
	} `yaml:"stats"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dt config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the workspace has no config file.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Claim.MaxRetries < 0 {
		return fmt.Errorf("config.claim.max_retries must be >= 0")
	}
	if c.Claim.RetryBaseDelay < 0 {
		return fmt.Errorf("config.claim.retry_base_delay must be >= 0")
	}
	if c.Claim.LockWait < 0 {
		return fmt.Errorf("config.claim.lock_wait must be >= 0")
	}
	if c.Store.BusyTimeout < 0 {
		return fmt.Errorf("config.store.busy_timeout must be >= 0")
	}
	if c.Features.Workers < 1 {
		return fmt.Errorf("config.features.workers must be >= 1")
	}
	for alias, key := range c.Features.Aliases {
		if alias == "" || key == "" {
			return fmt.Errorf("config.features.aliases has empty entry %q -> %q", alias, key)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dualtext.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		return nil, fmt.Errorf("default config yaml: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `claim:
  max_retries: 8
  retry_base_delay: 10ms
  lock_wait: 2s

store:
  busy_timeout: 5s

features:
  workers: 4
  aliases:
    words: word_count
    chars: length

stats:
  fail_on_mismatch: true
`
