package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/qbimport/internal/importer"
	"github.com/rumor-ml/commons.systems/qbimport/internal/match"
)

// Config carries everything the CLI and server need. Values come from
// an optional YAML file, overridden by QBIMPORT_* environment
// variables (a .env file is honored when present).
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	APIToken   string `yaml:"api_token"`

	Match struct {
		AutoMatchThreshold float64 `yaml:"auto_match_threshold"`
		SuggestionFloor    float64 `yaml:"suggestion_floor"`
		MaxSuggestions     int     `yaml:"max_suggestions"`
	} `yaml:"match"`

	Retry struct {
		Attempts  int `yaml:"attempts"`
		BackoffMS int `yaml:"backoff_ms"`
	} `yaml:"retry"`
}

// Default returns the standalone single-user defaults.
func Default() *Config {
	cfg := &Config{
		ListenAddr: ":8080",
		DBPath:     "qbimport.db",
	}
	m := match.DefaultConfig()
	cfg.Match.AutoMatchThreshold = m.AutoMatchThreshold
	cfg.Match.SuggestionFloor = m.SuggestionFloor
	cfg.Match.MaxSuggestions = m.MaxSuggestions
	r := importer.DefaultRetryPolicy()
	cfg.Retry.Attempts = r.Attempts
	cfg.Retry.BackoffMS = int(r.Backoff / time.Millisecond)
	return cfg
}

// Load builds the config from defaults, an optional YAML file and the
// environment, in that order of precedence.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case outside development
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("QBIMPORT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("QBIMPORT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("QBIMPORT_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("QBIMPORT_AUTO_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Match.AutoMatchThreshold = f
		}
	}
	if v := os.Getenv("QBIMPORT_SUGGESTION_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Match.SuggestionFloor = f
		}
	}
	if v := os.Getenv("QBIMPORT_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.Attempts = n
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.Match.SuggestionFloor < 0 || c.Match.SuggestionFloor > 100 {
		return fmt.Errorf("suggestion_floor must be in [0,100], got %v", c.Match.SuggestionFloor)
	}
	if c.Match.AutoMatchThreshold < c.Match.SuggestionFloor || c.Match.AutoMatchThreshold > 100 {
		return fmt.Errorf("auto_match_threshold must be in [suggestion_floor,100], got %v", c.Match.AutoMatchThreshold)
	}
	if c.Match.MaxSuggestions < 1 {
		return fmt.Errorf("max_suggestions must be >= 1, got %d", c.Match.MaxSuggestions)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be >= 1, got %d", c.Retry.Attempts)
	}
	return nil
}

// ImporterConfig translates the loaded values into pipeline knobs.
func (c *Config) ImporterConfig() importer.Config {
	return importer.Config{
		Match: match.Config{
			AutoMatchThreshold: c.Match.AutoMatchThreshold,
			SuggestionFloor:    c.Match.SuggestionFloor,
			MaxSuggestions:     c.Match.MaxSuggestions,
		},
		Retry: importer.RetryPolicy{
			Attempts: c.Retry.Attempts,
			Backoff:  time.Duration(c.Retry.BackoffMS) * time.Millisecond,
		},
	}
}
