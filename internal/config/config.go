package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration
type Config struct {
	Forge   ForgeConfig   `yaml:"forge"`
	Store   StoreConfig   `yaml:"store"`
	Roster  RosterConfig  `yaml:"roster"`
	Policy  PolicyConfig  `yaml:"policy"`
	LLM     LLMConfig     `yaml:"llm"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	TempDir string        `yaml:"temp_dir"`
}

// ForgeConfig points at the forge REST API. The token comes from the
// environment, never the file.
type ForgeConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	Token   string `yaml:"-"`
	User    string `yaml:"user"`
}

// StoreConfig locates the sqlite database
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RosterConfig locates the fleet roster files
type RosterConfig struct {
	MasterPath string `yaml:"master_path" validate:"required"`
	DetailPath string `yaml:"detail_path"`
}

// PolicyConfig locates the declarative invariant/variance policy
type PolicyConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig selects the triage model
type LLMConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"-"`
}

// UnmarshalYAML accepts the timeout as a duration string ("2m", "90s")
// and leaves defaults in place for fields the file omits.
func (l *LLMConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
		Timeout  string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Provider != "" {
		l.Provider = raw.Provider
	}
	if raw.Model != "" {
		l.Model = raw.Model
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid llm timeout %q: %w", raw.Timeout, err)
		}
		l.Timeout = d
	}
	return nil
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads the config file, fills defaults and applies env overrides
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Store:   StoreConfig{Path: "driftcert.db"},
		LLM:     LLMConfig{Provider: "anthropic", Timeout: 5 * time.Minute},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DRIFTCERT_FORGE_TOKEN"); v != "" {
		c.Forge.Token = v
	}
	if v := os.Getenv("DRIFTCERT_FORGE_URL"); v != "" {
		c.Forge.BaseURL = v
	}
	if v := os.Getenv("DRIFTCERT_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("DRIFTCERT_TEMP_DIR"); v != "" {
		c.TempDir = v
	}
	if v := os.Getenv("DRIFTCERT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DRIFTCERT_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
}
