// Package config loads routesync's process-wide configuration from a YAML
// file into a single immutable value. This replaces the Python original's
// ConfigManager singleton (original_source/mihomo_sync/config.py): instead
// of a package-level instance guarded by a once-initialized flag, callers
// receive a *Config and pass it through constructors explicitly.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig controls the exponential-backoff-with-jitter retry policy
// shared by the upstream client (C1) and the rule-set cache (C3).
type RetryConfig struct {
	MaxRetries      int     `yaml:"max_retries"`
	InitialBackoff  float64 `yaml:"initial_backoff"`
	MaxBackoff      float64 `yaml:"max_backoff"`
	Jitter          bool    `yaml:"jitter"`
}

// Config is routesync's complete process configuration, decoded once at
// startup and never mutated afterward.
type Config struct {
	UpstreamAPIURL    string      `yaml:"upstream_api_url"`
	UpstreamAPITimeout float64    `yaml:"upstream_api_timeout"`
	UpstreamAPISecret string      `yaml:"upstream_api_secret"`
	RetryConfig       RetryConfig `yaml:"api_retry_config"`

	PollingInterval  float64 `yaml:"polling_interval"`
	DebounceInterval float64 `yaml:"debounce_interval"`

	DownstreamRulesPath    string `yaml:"downstream_rules_path"`
	DownstreamReloadCommand string `yaml:"downstream_reload_command"`

	UpstreamLocalConfigPath string `yaml:"upstream_local_config_path"`

	LogLevel string `yaml:"log_level"`

	HealthAddr string `yaml:"health_addr"`
}

// Timeout returns the per-request upstream timeout as a time.Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.UpstreamAPITimeout * float64(time.Second))
}

// PollInterval returns the observer's poll period as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollingInterval * float64(time.Second))
}

// DebounceWindow returns the observer's trailing-debounce window as a
// time.Duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceInterval * float64(time.Second))
}

// IntermediateDir is the scratch directory the dispatch orchestrator (C5)
// writes the intermediate tree into, derived from the final output
// directory the same way the original derives mosdns_config_path + "_intermediate".
func (c *Config) IntermediateDir() string {
	return c.DownstreamRulesPath + "_intermediate"
}

// CacheDir is where the rule-set cache (C3) stores downloaded content and
// validator metadata, nested under the intermediate directory so it is
// naturally cleaned up alongside it... except the cache must *persist*
// across runs (spec.md §3 "Cache entries persist across runs and across
// process restarts"), so routesync keeps it as a sibling, not a child, of
// the per-run intermediate tree.
func (c *Config) CacheDir() string {
	return c.DownstreamRulesPath + "_cache"
}

// Load reads and validates the YAML configuration file at path. Every
// missing required key is reported at once (errors.Join), rather than
// failing on the first one found, which is friendlier than the Python
// original's first-missing-key ValueError.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	req := func(ok bool, key string) {
		if !ok {
			errs = append(errs, fmt.Errorf("missing required configuration key: %s", key))
		}
	}

	req(c.UpstreamAPIURL != "", "upstream_api_url")
	req(c.UpstreamAPITimeout > 0, "upstream_api_timeout")
	req(c.PollingInterval > 0, "polling_interval")
	req(c.DebounceInterval > 0, "debounce_interval")
	req(c.DownstreamRulesPath != "", "downstream_rules_path")
	req(c.DownstreamReloadCommand != "", "downstream_reload_command")
	req(c.LogLevel != "", "log_level")

	req(c.RetryConfig.MaxRetries > 0, "api_retry_config.max_retries")
	req(c.RetryConfig.InitialBackoff > 0, "api_retry_config.initial_backoff")
	req(c.RetryConfig.MaxBackoff > 0, "api_retry_config.max_backoff")

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
