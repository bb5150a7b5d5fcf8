package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("Expected default listen, got %s", cfg.Listen)
	}
	if !cfg.Relay.Enabled || cfg.Relay.BatchSize != 100 {
		t.Errorf("Unexpected relay defaults: %+v", cfg.Relay)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen: 0.0.0.0:9000
authority: "0xABC"
auth:
  jwt_secret: "0123456789abcdef0123"
  token_ttl: 1h
ratelimit:
  buy_per_second: 2
  burst: 4
relay:
  enabled: true
  interval: 250ms
  kafka:
    brokers: ["k1:9092", "k2:9092"]
    topic: market
log:
  level: debug
  format: console
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" || cfg.Authority != "0xABC" {
		t.Errorf("Unexpected top-level values: %+v", cfg)
	}
	if cfg.Auth.TokenTTL != time.Hour || cfg.Auth.Issuer != "cmkt" {
		t.Errorf("Unexpected auth: %+v", cfg.Auth)
	}
	if cfg.Relay.Interval != 250*time.Millisecond || len(cfg.Relay.Kafka.Brokers) != 2 || cfg.Relay.Kafka.Topic != "market" {
		t.Errorf("Unexpected relay: %+v", cfg.Relay)
	}
	if cfg.Relay.BatchSize != 100 {
		t.Errorf("Unset batch size should keep default, got %d", cfg.Relay.BatchSize)
	}
	if cfg.Log.Format != "console" || cfg.RateLimit.Burst != 4 {
		t.Errorf("Unexpected log/ratelimit: %+v %+v", cfg.Log, cfg.RateLimit)
	}
}

func TestLoad_EnvSecret(t *testing.T) {
	t.Setenv(EnvJWTSecret, "env-secret-value-long-enough")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "env-secret-value-long-enough" {
		t.Errorf("Expected env secret, got %q", cfg.Auth.JWTSecret)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"bad listen":     func(c *Config) { c.Listen = "nope" },
		"empty db":       func(c *Config) { c.DB = "" },
		"negative rate":  func(c *Config) { c.RateLimit.BuyPerSecond = -1 },
		"zero burst":     func(c *Config) { c.RateLimit.Burst = 0 },
		"short secret":   func(c *Config) { c.Auth.JWTSecret = "short" },
		"kafka no topic": func(c *Config) { c.Relay.Kafka.Brokers = []string{"k:9092"}; c.Relay.Kafka.Topic = "" },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Authority = "operator"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Authority != "operator" || loaded.Relay.Interval != cfg.Relay.Interval {
		t.Errorf("Round trip mismatch: %+v", loaded)
	}
}
