/*
Package config loads server configuration.

SOURCES (later wins):
  1. .env file (ENV_FILE, default ".env"; a missing file is fine)
  2. Environment variables, with defaults (envconfig tags below)
  3. Command-line flags
  4. Services file (YAML), for backend resolution

SERVICES FILE:
  default_service: local_stock
  allow_first_registered_fallback: false
  transaction_location_policy: first      # or highest_stock
  always_in_stock_level: 999
  overrides:
    gift_card: always_in_stock
    product_variation:dropship: remote_stock
  remote:
    base_url: http://central-stock:8080
    timeout: 5s
    retries: 3
*/
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/warp/stock-engine/service"
)

// Location policies accepted in the services file.
const (
	PolicyFirst        = "first"
	PolicyHighestStock = "highest_stock"
)

// Config is the full server configuration.
type Config struct {
	Port   int    `envconfig:"PORT" default:"8080"`
	DBPath string `envconfig:"DB_PATH" default:"stock.db"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	CatchUpInterval time.Duration `envconfig:"CATCHUP_INTERVAL" default:"1m"`
	CatchUpBatch    int           `envconfig:"CATCHUP_BATCH" default:"500"`
	SyncCatchUp     bool          `envconfig:"SYNC_CATCHUP" default:"true"`

	// RetentionDays of 0 keeps history forever.
	RetentionDays int `envconfig:"RETENTION_DAYS" default:"0"`

	// RedisAddr enables the distributed catch-up lock.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	LockTTL       time.Duration `envconfig:"LOCK_TTL" default:"10s"`

	ServicesFile    string   `envconfig:"SERVICES_FILE"`
	CORSOrigins     []string `envconfig:"CORS_ORIGINS"`
	EnableScenarios bool     `envconfig:"ENABLE_SCENARIOS" default:"false"`

	Services Services `ignored:"true"`
}

// Services configures backend registration and resolution.
type Services struct {
	DefaultService               string            `yaml:"default_service"`
	AllowFirstRegisteredFallback bool              `yaml:"allow_first_registered_fallback"`
	Overrides                    map[string]string `yaml:"overrides"`
	TransactionLocationPolicy    string            `yaml:"transaction_location_policy"`
	AlwaysInStockLevel           int64             `yaml:"always_in_stock_level"`
	Remote                       *Remote           `yaml:"remote"`
}

// Remote configures the remote backend. Nil means "not registered".
type Remote struct {
	ID      string        `yaml:"id"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// DefaultServices is used when no services file is given.
func DefaultServices() Services {
	return Services{
		DefaultService:            "local_stock",
		TransactionLocationPolicy: PolicyFirst,
	}
}

// Retention returns RetentionDays as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Resolution converts the services file into registry configuration.
func (s Services) Resolution() service.ResolutionConfig {
	overrides := make(map[string]string, len(s.Overrides))
	for k, v := range s.Overrides {
		overrides[k] = v
	}
	return service.ResolutionConfig{
		DefaultService:               s.DefaultService,
		Overrides:                    overrides,
		AllowFirstRegisteredFallback: s.AllowFirstRegisteredFallback,
	}
}

// Load reads configuration from the environment, args (without the program
// name) and the services file.
func Load(args []string) (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	flags := flag.NewFlagSet("stock-engine", flag.ContinueOnError)
	flags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, `SQLite database path (":memory:" for in-memory)`)
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (json, console)")
	flags.StringVar(&cfg.ServicesFile, "services", cfg.ServicesFile, "services YAML file")
	flags.DurationVar(&cfg.CatchUpInterval, "catchup-interval", cfg.CatchUpInterval, "checkpoint catch-up interval")
	flags.IntVar(&cfg.RetentionDays, "retention-days", cfg.RetentionDays, "delete folded history older than this (0 keeps everything)")
	flags.BoolVar(&cfg.EnableScenarios, "scenarios", cfg.EnableScenarios, "enable demo scenario endpoints (resets data)")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg.Services = DefaultServices()
	if cfg.ServicesFile != "" {
		services, err := LoadServices(cfg.ServicesFile)
		if err != nil {
			return nil, err
		}
		cfg.Services = services
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadServices reads a services YAML file.
func LoadServices(path string) (Services, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Services{}, fmt.Errorf("read services file: %w", err)
	}
	return ParseServices(data)
}

// ParseServices decodes services YAML over DefaultServices. Unknown keys
// are rejected so a typo does not silently change resolution.
func ParseServices(data []byte) (Services, error) {
	s := DefaultServices()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Services{}, fmt.Errorf("parse services file: %w", err)
	}
	if s.TransactionLocationPolicy == "" {
		s.TransactionLocationPolicy = PolicyFirst
	}
	return s, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.DBPath == "":
		return errors.New("db path is required")
	case c.CatchUpInterval <= 0:
		return fmt.Errorf("catch-up interval must be positive, got %s", c.CatchUpInterval)
	case c.RetentionDays < 0:
		return fmt.Errorf("retention days must not be negative, got %d", c.RetentionDays)
	case c.LogFormat != "json" && c.LogFormat != "console":
		return fmt.Errorf("log format must be json or console, got %q", c.LogFormat)
	}
	return c.Services.Validate()
}

// Validate checks the services section.
func (s Services) Validate() error {
	for k, v := range s.Overrides {
		if k == "" || v == "" {
			return fmt.Errorf("override %q -> %q: both sides are required", k, v)
		}
	}
	switch s.TransactionLocationPolicy {
	case PolicyFirst, PolicyHighestStock:
	default:
		return fmt.Errorf("unknown transaction_location_policy %q", s.TransactionLocationPolicy)
	}
	if s.AlwaysInStockLevel < 0 {
		return fmt.Errorf("always_in_stock_level must not be negative")
	}
	if s.Remote != nil && s.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required when remote is configured")
	}
	return nil
}
