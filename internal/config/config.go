package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file at the workspace root.
const FileName = "docledger.yaml"

// Extraction backends.
const (
	BackendGemini = "gemini"
	BackendVertex = "vertex"
)

// ModelAuto asks the extractor to pick a model by listing what is available.
const ModelAuto = "auto"

// MinLookbackDays is the shortest rate lookback window that still covers a
// long weekend.
const MinLookbackDays = 5

// Config represents the top-level docledger.yaml configuration.
type Config struct {
	Business   BusinessConfig   `yaml:"business"`
	Currency   CurrencyConfig   `yaml:"currency"`
	Validation ValidationConfig `yaml:"validation"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Rates      RatesConfig      `yaml:"rates"`
	Server     ServerConfig     `yaml:"server"`
	Git        GitConfig        `yaml:"git"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BusinessConfig identifies the business keeping the ledgers.
type BusinessConfig struct {
	Name string `yaml:"name"`
}

// CurrencyConfig controls normalization into the base currency.
type CurrencyConfig struct {
	Base          string `yaml:"base"`
	Foreign       string `yaml:"foreign"`
	RateSymbol    string `yaml:"rate_symbol"` // quote symbol giving base units per foreign unit
	LookbackDays  int    `yaml:"lookback_days"`
	RateSourceURL string `yaml:"rate_source_url"`
}

// ValidationConfig controls the arithmetic check.
type ValidationConfig struct {
	Tolerance float64 `yaml:"tolerance"`
}

// ExtractionConfig selects and tunes the vision-language backend.
type ExtractionConfig struct {
	Backend           string  `yaml:"backend"`
	Model             string  `yaml:"model"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Project           string  `yaml:"project,omitempty"`
	Location          string  `yaml:"location,omitempty"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Concurrency       int     `yaml:"concurrency"`
}

// RatesConfig tunes exchange-rate lookups.
type RatesConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RedisAddr      string `yaml:"redis_addr,omitempty"`
	CacheTTLHours  int    `yaml:"cache_ttl_hours"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// GitConfig controls git integration.
type GitConfig struct {
	AutoCommit  bool   `yaml:"auto_commit"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Load reads a docledger.yaml file from disk. Missing values take their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new workspace.
func Default(businessName string) *Config {
	return &Config{
		Business: BusinessConfig{
			Name: businessName,
		},
		Currency: CurrencyConfig{
			Base:          "ZAR",
			Foreign:       "USD",
			RateSymbol:    "ZAR=X",
			LookbackDays:  MinLookbackDays,
			RateSourceURL: "https://query1.finance.yahoo.com/v8/finance/chart",
		},
		Validation: ValidationConfig{
			Tolerance: 0.15,
		},
		Extraction: ExtractionConfig{
			Backend:           BackendGemini,
			Model:             ModelAuto,
			APIKeyEnv:         "GEMINI_API_KEY",
			TimeoutSeconds:    60,
			RequestsPerSecond: 1,
			Concurrency:       1,
		},
		Rates: RatesConfig{
			TimeoutSeconds: 15,
			CacheTTLHours:  24 * 30,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Git: GitConfig{
			AutoCommit:  true,
			AuthorName:  "docledger",
			AuthorEmail: "docledger@localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ExtractionTimeout returns the per-document extraction deadline.
func (c *Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutSeconds) * time.Second
}

// RateTimeout returns the per-lookup exchange-rate deadline.
func (c *Config) RateTimeout() time.Duration {
	return time.Duration(c.Rates.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long resolved rates stay cached.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Rates.CacheTTLHours) * time.Hour
}

// APIKey returns the extraction API key from the environment.
func (c *Config) APIKey() string {
	if c.Extraction.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Extraction.APIKeyEnv))
}
