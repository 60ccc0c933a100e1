package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/helmsman/pkg/config"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Remote.Owner = "starford"
	cfg.Remote.Repo = "seamanship"
	return cfg
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_RequiresRepository(t *testing.T) {
	err := NewDefaultConfig().Validate()
	if err == nil {
		t.Fatal("default config without owner/repo should fail")
	}
	if !strings.HasPrefix(err.Error(), "remote:") {
		t.Errorf("unexpected error: %v", err)
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config with owner/repo should pass: %v", err)
	}
}

func TestConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		prefix string
	}{
		{"bad api url", func(c *Config) { c.Remote.APIBaseURL = "not a url" }, "remote:"},
		{"short timeout", func(c *Config) { c.Remote.RequestTimeout = pkgconfig.Duration(time.Millisecond) }, "remote:"},
		{"empty deck folder", func(c *Config) { c.Remote.Decks = []string{"decks/a", ""} }, "remote:"},
		{"max below base delay", func(c *Config) {
			c.Retry.BaseDelay = pkgconfig.Duration(5 * time.Second)
			c.Retry.MaxDelay = pkgconfig.Duration(time.Second)
		}, "retry:"},
		{"too many attempts", func(c *Config) { c.Retry.MaxAttempts = 11 }, "retry:"},
		{"zero breaker threshold", func(c *Config) { c.Breaker.Threshold = 0 }, "breaker:"},
		{"no cache dir", func(c *Config) { c.Cache.Dir = "" }, "cache:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.HasPrefix(err.Error(), tt.prefix) {
				t.Errorf("error = %v, want prefix %q", err, tt.prefix)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("TEST_HELMSMAN_TOKEN", "ghp_secret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
remote:
  owner: starford
  repo: seamanship
  token: ${TEST_HELMSMAN_TOKEN}
  batch_delay: 0s
  decks: [decks/knots]
retry:
  max_attempts: 2
cache:
  max_age: 3d
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.Token != "ghp_secret" {
		t.Errorf("token = %q", cfg.Remote.Token)
	}
	if cfg.Cache.MaxAge.Std() != 72*time.Hour {
		t.Errorf("max_age = %v", cfg.Cache.MaxAge)
	}
	if cfg.App.HTTP.Port != 8080 || cfg.Remote.Branch != "main" {
		t.Errorf("defaults lost: port=%d branch=%q", cfg.App.HTTP.Port, cfg.Remote.Branch)
	}

	fc := cfg.FetcherConfig()
	if fc.Owner != "starford" || fc.BatchDelay != 0 || fc.BreakerThreshold != cfg.Breaker.Threshold {
		t.Errorf("fetcher config = %+v", fc)
	}
	if p := cfg.Retry.Policy(); p.MaxAttempts != 2 || p.MaxDelay != cfg.Retry.MaxDelay.Std() {
		t.Errorf("policy = %+v", p)
	}
}
