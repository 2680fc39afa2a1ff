// Package config resolves the process configuration from an optional
// boardbridge.yaml file and BOARDBRIDGE_* environment variables, with
// environment taking precedence. Missing credentials are not fatal: the
// corresponding gates degrade to permissive-with-warning.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const fileName = "boardbridge.yaml"

// Config is the resolved process configuration.
type Config struct {
	// Remote API credentials and endpoint.
	APIBaseURL string
	APIKey     string
	APIToken   string

	// BearerToken gates the streaming transport; empty means permissive.
	BearerToken string

	// WebhookSecret gates webhook deliveries; empty means permissive.
	WebhookSecret string

	// Rate budget for outbound remote calls.
	RateTokens     int
	RateInterval   time.Duration
	RateConcurrent int
	RateSpacing    time.Duration

	// EventRetention bounds how long webhook events stay queryable; the
	// ring buffer caps the count regardless. Zero disables the sweep.
	EventRetention time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		APIBaseURL:   "https://api.trello.com/1",
		RateTokens:   100,
		RateInterval: 10 * time.Second,
	}
}

// duration parses human-readable YAML values like "10s" or "24h".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors Config for YAML decoding; durations come in as text.
type fileConfig struct {
	APIBaseURL     string   `yaml:"api_base_url"`
	APIKey         string   `yaml:"api_key"`
	APIToken       string   `yaml:"api_token"`
	BearerToken    string   `yaml:"bearer_token"`
	WebhookSecret  string   `yaml:"webhook_secret"`
	RateTokens     int      `yaml:"rate_tokens"`
	RateInterval   duration `yaml:"rate_interval"`
	RateConcurrent int      `yaml:"rate_concurrent"`
	RateSpacing    duration `yaml:"rate_spacing"`
	EventRetention duration `yaml:"event_retention"`
}

// Load resolves configuration from the given file path (empty means
// discover ./boardbridge.yaml, absent is fine) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved, found, err := discover(path)
	if err != nil {
		return Config{}, err
	}
	if found {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", resolved, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", resolved, err)
		}
		merge(&cfg, fc)
	}

	applyEnv(&cfg)
	return cfg, nil
}

// merge overlays non-zero file values onto the defaults.
func merge(cfg *Config, fc fileConfig) {
	if fc.APIBaseURL != "" {
		cfg.APIBaseURL = fc.APIBaseURL
	}
	if fc.APIKey != "" {
		cfg.APIKey = fc.APIKey
	}
	if fc.APIToken != "" {
		cfg.APIToken = fc.APIToken
	}
	if fc.BearerToken != "" {
		cfg.BearerToken = fc.BearerToken
	}
	if fc.WebhookSecret != "" {
		cfg.WebhookSecret = fc.WebhookSecret
	}
	if fc.RateTokens != 0 {
		cfg.RateTokens = fc.RateTokens
	}
	if fc.RateInterval != 0 {
		cfg.RateInterval = time.Duration(fc.RateInterval)
	}
	if fc.RateConcurrent != 0 {
		cfg.RateConcurrent = fc.RateConcurrent
	}
	if fc.RateSpacing != 0 {
		cfg.RateSpacing = time.Duration(fc.RateSpacing)
	}
	if fc.EventRetention != 0 {
		cfg.EventRetention = time.Duration(fc.EventRetention)
	}
}

func discover(explicit string) (string, bool, error) {
	if clean := strings.TrimSpace(explicit); clean != "" {
		info, err := os.Stat(clean)
		if err != nil {
			return "", false, fmt.Errorf("config file %q: %w", clean, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", clean)
		}
		return clean, true, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	candidate := filepath.Join(cwd, fileName)
	info, err := os.Stat(candidate)
	if err == nil && !info.IsDir() {
		return candidate, true, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
	}
	return "", false, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.APIBaseURL, "BOARDBRIDGE_API_BASE_URL")
	setString(&cfg.APIKey, "BOARDBRIDGE_API_KEY")
	setString(&cfg.APIToken, "BOARDBRIDGE_API_TOKEN")
	setString(&cfg.BearerToken, "BOARDBRIDGE_BEARER_TOKEN")
	setString(&cfg.WebhookSecret, "BOARDBRIDGE_WEBHOOK_SECRET")
}

func setString(target *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*target = value
	}
}
