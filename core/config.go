package core

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the SignalPost SDK.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Once loaded the configuration is treated as read-only by every
// component; replace it wholesale via Update if settings must change.
//
// Example usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithCredentials("key", "secret"),
//	    core.WithBaseURL("https://ingest.example.com"),
//	    core.WithServiceIdentity("checkout", "1.4.2", "production"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Credentials for the collection endpoint. Both parts are required;
	// they are joined with a literal "." into the bearer token.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// BaseURL is the absolute base URL of the collection endpoint
	BaseURL string `yaml:"base_url"`

	// Transport behavior
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	// Service identity, attached to every request and every metric
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	// DefaultLabels are caller-supplied labels merged into the service
	// identity label set at registry construction
	DefaultLabels map[string]string `yaml:"default_labels"`

	// Feature toggles
	LoggingEnabled bool   `yaml:"logging_enabled"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	LogLevel       string `yaml:"log_level"`
}

// Option is a functional option for configuring the SDK.
// Options are applied in order and can return an error if the
// configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
// Credentials and the base URL have no defaults and must be supplied
// through the environment or options.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        10 * time.Second,
		RetryAttempts:  3,
		RetryDelay:     500 * time.Millisecond,
		ServiceName:    "signalpost-app",
		ServiceVersion: "0.0.0",
		Environment:    "development",
		DefaultLabels:  map[string]string{},
		LoggingEnabled: true,
		MetricsEnabled: true,
		LogLevel:       "info",
	}
}

// NewConfig creates a validated configuration using the three-layer
// priority: defaults, then environment variables, then options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Update produces a new validated Config from the receiver with the
// given options applied. The receiver itself is never mutated, so
// components holding the old Config keep reading a consistent snapshot.
func (c *Config) Update(opts ...Option) (*Config, error) {
	next := *c
	next.DefaultLabels = make(map[string]string, len(c.DefaultLabels))
	for k, v := range c.DefaultLabels {
		next.DefaultLabels[k] = v
	}

	for _, opt := range opts {
		if err := opt(&next); err != nil {
			return nil, err
		}
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}

	return &next, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over defaults but are
// overridden by functional options.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("SIGNALPOST_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("SIGNALPOST_API_SECRET"); v != "" {
		c.APISecret = v
	}
	if v := os.Getenv("SIGNALPOST_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("SIGNALPOST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = d
		}
	}
	if v := os.Getenv("SIGNALPOST_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryAttempts = n
		}
	}
	if v := os.Getenv("SIGNALPOST_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RetryDelay = d
		}
	}
	if v := os.Getenv("SIGNALPOST_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("SIGNALPOST_SERVICE_VERSION"); v != "" {
		c.ServiceVersion = v
	}
	if v := os.Getenv("SIGNALPOST_ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("SIGNALPOST_LOGGING_ENABLED"); v != "" {
		c.LoggingEnabled = parseBool(v)
	}
	if v := os.Getenv("SIGNALPOST_METRICS_ENABLED"); v != "" {
		c.MetricsEnabled = parseBool(v)
	}
	if v := os.Getenv("SIGNALPOST_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file.
// File settings override environment variables but are overridden by
// functional options applied after WithConfigFile.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return &Error{
			Op:      "Config.LoadFromFile",
			Kind:    KindConfig,
			Message: fmt.Sprintf("unsupported config file extension %s", ext),
			Err:     ErrInvalidConfiguration,
		}
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return &Error{
			Op:      "Config.LoadFromFile",
			Kind:    KindConfig,
			Message: fmt.Sprintf("failed to read config file %s", cleanPath),
			Err:     err,
		}
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return &Error{
			Op:      "Config.LoadFromFile",
			Kind:    KindConfig,
			Message: "failed to parse YAML config file",
			Err:     ErrInvalidConfiguration,
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
// This method is called automatically by NewConfig() but can also be called
// manually after building a configuration by hand.
//
// Validation rules:
//   - Both credential parts are required
//   - BaseURL must be a well-formed absolute http(s) URL
//   - Timeout, retry attempts and retry delay must be positive
func (c *Config) Validate() error {
	if c.APIKey == "" || c.APISecret == "" {
		return &Error{
			Op:      "Config.Validate",
			Kind:    KindConfig,
			Message: "API key and secret are both required",
			Err:     ErrMissingConfiguration,
		}
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &Error{
			Op:      "Config.Validate",
			Kind:    KindConfig,
			Message: fmt.Sprintf("base URL must be an absolute http(s) URL, got %q", c.BaseURL),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Timeout <= 0 {
		return &Error{
			Op:      "Config.Validate",
			Kind:    KindConfig,
			Message: fmt.Sprintf("timeout must be positive, got %s", c.Timeout),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.RetryAttempts < 1 {
		return &Error{
			Op:      "Config.Validate",
			Kind:    KindConfig,
			Message: fmt.Sprintf("retry attempts must be at least 1, got %d", c.RetryAttempts),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.RetryDelay <= 0 {
		return &Error{
			Op:      "Config.Validate",
			Kind:    KindConfig,
			Message: fmt.Sprintf("retry delay must be positive, got %s", c.RetryDelay),
			Err:     ErrInvalidConfiguration,
		}
	}

	return nil
}

// BearerToken composes the Authorization bearer value by joining the
// two credential parts with a literal ".".
func (c *Config) BearerToken() string {
	return c.APIKey + "." + c.APISecret
}

// Functional Options

// WithCredentials sets the credential pair for the collection endpoint
func WithCredentials(key, secret string) Option {
	return func(c *Config) error {
		c.APIKey = key
		c.APISecret = secret
		return nil
	}
}

// WithBaseURL sets the base endpoint URL. A trailing slash is trimmed
// so route joining stays uniform.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) error {
		c.BaseURL = strings.TrimRight(baseURL, "/")
		return nil
	}
}

// WithTimeout sets the per-attempt request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return &Error{
				Op:      "WithTimeout",
				Kind:    KindConfig,
				Message: fmt.Sprintf("timeout must be positive, got %s", timeout),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Timeout = timeout
		return nil
	}
}

// WithRetry sets the retry ceiling and the base delay of the linear
// backoff. The delay before attempt k+1 is delay multiplied by k.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Config) error {
		if attempts < 1 {
			return &Error{
				Op:      "WithRetry",
				Kind:    KindConfig,
				Message: fmt.Sprintf("retry attempts must be at least 1, got %d", attempts),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.RetryAttempts = attempts
		c.RetryDelay = delay
		return nil
	}
}

// WithServiceIdentity sets the service name, version and environment
// attached to every request and every metric.
func WithServiceIdentity(name, version, environment string) Option {
	return func(c *Config) error {
		c.ServiceName = name
		c.ServiceVersion = version
		c.Environment = environment
		return nil
	}
}

// WithDefaultLabels merges caller-supplied labels into the default
// label set attached at registry construction.
func WithDefaultLabels(labels map[string]string) Option {
	return func(c *Config) error {
		for k, v := range labels {
			c.DefaultLabels[k] = v
		}
		return nil
	}
}

// WithLogging toggles SDK logging
func WithLogging(enabled bool) Option {
	return func(c *Config) error {
		c.LoggingEnabled = enabled
		return nil
	}
}

// WithLogLevel sets the log level (debug, info, warn, error)
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.LogLevel = level
		return nil
	}
}

// WithMetricsEnabled toggles the metrics registry and system sampling
func WithMetricsEnabled(enabled bool) Option {
	return func(c *Config) error {
		c.MetricsEnabled = enabled
		return nil
	}
}

// WithConfigFile loads settings from a YAML file. Apply it before other
// options so explicit options keep the highest priority.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// Helper functions

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// Everything else is false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
