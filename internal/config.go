package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/helmsman/internal/cache"
	"github.com/starford/helmsman/internal/fetcher"
	"github.com/starford/helmsman/internal/retry"
	pkgconfig "github.com/starford/helmsman/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Remote  RemoteConfig      `yaml:"remote"`
	Retry   RetryConfig       `yaml:"retry"`
	Breaker BreakerConfig     `yaml:"breaker"`
	Cache   CacheConfig       `yaml:"cache"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Breaker.Validate(); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// MetricsNamespace prefixes every Prometheus metric name.
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// RemoteConfig locates the content repository.
type RemoteConfig struct {
	RawBaseURL string `yaml:"raw_base_url"`
	APIBaseURL string `yaml:"api_base_url"`
	Owner      string `yaml:"owner"`
	Repo       string `yaml:"repo"`
	Branch     string `yaml:"branch"`
	// Token is sent as a Bearer token to the API host only.
	Token            string             `yaml:"token"`
	UserAgent        string             `yaml:"user_agent"`
	RequestTimeout   pkgconfig.Duration `yaml:"request_timeout"`
	BatchDelay       pkgconfig.Duration `yaml:"batch_delay"`
	MaxBatchFailures int                `yaml:"max_batch_failures"`
	MaxBodyBytes     int64              `yaml:"max_body_bytes"`
	// Decks are the folders synced by the deck command when none are given.
	Decks []string `yaml:"decks"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RawBaseURL, validation.Required, is.URL),
		validation.Field(&c.APIBaseURL, validation.Required, is.URL),
		validation.Field(&c.Owner, validation.Required),
		validation.Field(&c.Repo, validation.Required),
		validation.Field(&c.Branch, validation.Required),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(pkgconfig.Duration(time.Second))),
		validation.Field(&c.BatchDelay, validation.Min(pkgconfig.Duration(0))),
		validation.Field(&c.MaxBatchFailures, validation.Min(1)),
		validation.Field(&c.Decks, validation.Each(validation.Required)),
	)
}

// FetcherConfig converts the remote, breaker and timeout settings into a fetcher.Config.
func (c *Config) FetcherConfig() fetcher.Config {
	return fetcher.Config{
		RawBaseURL:       c.Remote.RawBaseURL,
		APIBaseURL:       c.Remote.APIBaseURL,
		Owner:            c.Remote.Owner,
		Repo:             c.Remote.Repo,
		Branch:           c.Remote.Branch,
		Token:            c.Remote.Token,
		UserAgent:        c.Remote.UserAgent,
		Timeout:          c.Remote.RequestTimeout.Std(),
		BatchDelay:       c.Remote.BatchDelay.Std(),
		MaxBatchFailures: c.Remote.MaxBatchFailures,
		MaxBodyBytes:     c.Remote.MaxBodyBytes,
		BreakerThreshold: c.Breaker.Threshold,
		BreakerTimeout:   c.Breaker.Timeout.Std(),
	}
}

// RetryConfig holds the retry policy for remote requests.
type RetryConfig struct {
	MaxAttempts int                `yaml:"max_attempts"`
	BaseDelay   pkgconfig.Duration `yaml:"base_delay"`
	MaxDelay    pkgconfig.Duration `yaml:"max_delay"`
	Jitter      bool               `yaml:"jitter"`
}

// Validate validates the retry configuration.
func (c *RetryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1), validation.Max(10)),
		validation.Field(&c.BaseDelay, validation.Required),
		validation.Field(&c.MaxDelay, validation.Required, validation.Min(c.BaseDelay)),
	)
}

// Policy returns the retry policy.
func (c *RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay.Std(),
		MaxDelay:    c.MaxDelay.Std(),
		Jitter:      c.Jitter,
	}
}

// BreakerConfig holds the circuit breaker settings per remote host.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold uint32             `yaml:"threshold"`
	Timeout   pkgconfig.Duration `yaml:"timeout"`
}

// Validate validates the breaker configuration.
func (c *BreakerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Threshold, validation.Required),
		validation.Field(&c.Timeout, validation.Required),
	)
}

// CacheConfig holds the content cache location and staleness window.
type CacheConfig struct {
	Dir    string             `yaml:"dir"`
	MaxAge pkgconfig.Duration `yaml:"max_age"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.MaxAge, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration for the HTTP API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	fc := fetcher.DefaultConfig()
	rp := retry.DefaultPolicy()
	base := filepath.Join(xdg.CacheHome, "helmsman")

	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			MetricsNamespace: "helmsman",
		},
		Remote: RemoteConfig{
			RawBaseURL:       fc.RawBaseURL,
			APIBaseURL:       fc.APIBaseURL,
			Branch:           fc.Branch,
			UserAgent:        fc.UserAgent,
			RequestTimeout:   pkgconfig.Duration(fc.Timeout),
			BatchDelay:       pkgconfig.Duration(fc.BatchDelay),
			MaxBatchFailures: fc.MaxBatchFailures,
			MaxBodyBytes:     fc.MaxBodyBytes,
		},
		Retry: RetryConfig{
			MaxAttempts: rp.MaxAttempts,
			BaseDelay:   pkgconfig.Duration(rp.BaseDelay),
			MaxDelay:    pkgconfig.Duration(rp.MaxDelay),
			Jitter:      rp.Jitter,
		},
		Breaker: BreakerConfig{
			Threshold: fc.BreakerThreshold,
			Timeout:   pkgconfig.Duration(fc.BreakerTimeout),
		},
		Cache: CacheConfig{
			Dir:    filepath.Join(base, "content"),
			MaxAge: pkgconfig.Duration(cache.DefaultMaxAge),
		},
		SQLite: SQLiteConfig{
			Path: filepath.Join(base, "index.db"),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
