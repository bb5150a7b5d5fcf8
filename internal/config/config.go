// Package config loads the daemon and CLI configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/computemarket/cmkt/internal/logging"
	"github.com/computemarket/cmkt/internal/relay"
	"gopkg.in/yaml.v3"
)

// DefaultListen is the default daemon address.
const DefaultListen = "127.0.0.1:7466"

// EnvJWTSecret overrides auth.jwt_secret when set.
const EnvJWTSecret = "CMKT_JWT_SECRET"

// Config holds the daemon configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// DB is the SQLite database path.
	DB string `yaml:"db"`
	// Authority is the initial authority, used only when the database is new.
	Authority string `yaml:"authority"`
	// APIURL is where CLI commands reach the daemon.
	APIURL string `yaml:"api_url"`

	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Relay     relay.Config    `yaml:"relay"`
	Log       logging.Config  `yaml:"log"`
}

// AuthConfig controls caller attribution.
type AuthConfig struct {
	// JWTSecret enables bearer-token authentication. When empty the
	// X-Principal header is trusted, which is only suitable for local use.
	JWTSecret string `yaml:"jwt_secret"`
	// Issuer is set on and required in issued tokens.
	Issuer string `yaml:"issuer"`
	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// RateLimitConfig bounds purchases per principal.
type RateLimitConfig struct {
	// BuyPerSecond is the sustained purchase rate. Zero disables limiting.
	BuyPerSecond float64 `yaml:"buy_per_second"`
	// Burst is the number of purchases allowed at once.
	Burst int `yaml:"burst"`
}

// HomeDir returns ~/.cmkt.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cmkt"
	}
	return filepath.Join(home, ".cmkt")
}

// DefaultPath returns ~/.cmkt/config.yaml.
func DefaultPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen: DefaultListen,
		DB:     filepath.Join(HomeDir(), "cmkt.db"),
		APIURL: "http://" + DefaultListen,
		Auth: AuthConfig{
			Issuer:   "cmkt",
			TokenTTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			BuyPerSecond: 5,
			Burst:        10,
		},
		Relay: *relay.DefaultConfig(),
		Log:   logging.DefaultConfig(),
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if secret := os.Getenv(EnvJWTSecret); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes configuration to a YAML file, creating parent directories if
// needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen %q: %w", c.Listen, err)
	}
	if c.DB == "" {
		return fmt.Errorf("db path is required")
	}
	if c.RateLimit.BuyPerSecond < 0 {
		return fmt.Errorf("ratelimit.buy_per_second must not be negative")
	}
	if c.RateLimit.BuyPerSecond > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("ratelimit.burst must be at least 1")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 bytes")
	}
	if c.Relay.Enabled && len(c.Relay.Kafka.Brokers) > 0 && c.Relay.Kafka.Topic == "" {
		return fmt.Errorf("relay.kafka.topic is required when brokers are set")
	}
	return nil
}
