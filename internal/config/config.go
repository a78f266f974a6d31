package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soochol/inflow/internal/inbound"
)

// Validation errors.
var (
	ErrInvalidPort        = errors.New("server.port must be between 1 and 65535")
	ErrInvalidWorkers     = errors.New("inbound.workers must be positive")
	ErrInvalidLogSize     = errors.New("inbound.activity_log_size must be positive")
	ErrInvalidConcurrency = errors.New("inbound.concurrency.global_max must be positive")
	ErrInvalidPerProcess  = errors.New("inbound.concurrency.per_process must be 1")
	ErrInvalidLogLevel    = errors.New("log.level must be debug, info, warn or error")
	ErrInvalidLogFormat   = errors.New("log.format must be text or json")
	ErrIncompleteOAuth    = errors.New("engine.client_id requires engine.token_url")
)

// Config holds the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Inbound  InboundConfig  `yaml:"inbound"`
	Engine   EngineConfig   `yaml:"engine"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds database connection settings. An empty URL keeps all
// state in memory.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// InboundConfig tunes the listener runtime.
type InboundConfig struct {
	WebhooksEnabled      bool                      `yaml:"webhooks_enabled"`
	ActivityLogSize      int                       `yaml:"activity_log_size"`
	Workers              int                       `yaml:"workers"`
	Concurrency          inbound.ConcurrencyLimits `yaml:"concurrency"`
	ImportSchedule       string                    `yaml:"import_schedule"`       // cron; empty disables
	SubscriptionSchedule string                    `yaml:"subscription_schedule"` // cron; empty disables
	DefinitionsDir       string                    `yaml:"definitions_dir"`       // watched for YAML documents; empty disables
}

// EngineConfig locates the process engine. An empty URL logs start requests
// instead of sending them.
type EngineConfig struct {
	URL          string `yaml:"url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Inbound: InboundConfig{
			WebhooksEnabled:      true,
			ActivityLogSize:      10,
			Workers:              inbound.DefaultConcurrencyLimits().GlobalMax,
			Concurrency:          inbound.DefaultConcurrencyLimits(),
			ImportSchedule:       "@every 30s",
			SubscriptionSchedule: "@every 1m",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return defaults()
}

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadDefault tries to load path, falling back to "config.yaml" in the
// current directory. If the file does not exist, it returns sensible
// defaults. Any other error (e.g. permission denied, malformed YAML) is
// returned. Environment overrides are applied in both cases.
func LoadDefault(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = defaults()
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from INFLOW_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}

	str("INFLOW_HOST", &c.Server.Host)
	if err := num("INFLOW_PORT", &c.Server.Port); err != nil {
		return err
	}
	if v, ok := lookup("INFLOW_CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(v)
	}
	str("INFLOW_DATABASE_URL", &c.Database.URL)

	if v, ok := lookup("INFLOW_WEBHOOKS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("INFLOW_WEBHOOKS_ENABLED: %w", err)
		}
		c.Inbound.WebhooksEnabled = b
	}
	if err := num("INFLOW_ACTIVITY_LOG_SIZE", &c.Inbound.ActivityLogSize); err != nil {
		return err
	}
	if err := num("INFLOW_WORKERS", &c.Inbound.Workers); err != nil {
		return err
	}
	str("INFLOW_IMPORT_SCHEDULE", &c.Inbound.ImportSchedule)
	str("INFLOW_SUBSCRIPTION_SCHEDULE", &c.Inbound.SubscriptionSchedule)
	str("INFLOW_DEFINITIONS_DIR", &c.Inbound.DefinitionsDir)

	str("INFLOW_ENGINE_URL", &c.Engine.URL)
	str("INFLOW_ENGINE_CLIENT_ID", &c.Engine.ClientID)
	str("INFLOW_ENGINE_CLIENT_SECRET", &c.Engine.ClientSecret)
	str("INFLOW_ENGINE_TOKEN_URL", &c.Engine.TokenURL)

	str("INFLOW_LOG_LEVEL", &c.Log.Level)
	str("INFLOW_LOG_FORMAT", &c.Log.Format)
	return nil
}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if c.Inbound.Workers <= 0 {
		errs = append(errs, ErrInvalidWorkers)
	}
	if c.Inbound.ActivityLogSize <= 0 {
		errs = append(errs, ErrInvalidLogSize)
	}
	if c.Inbound.Concurrency.GlobalMax <= 0 {
		errs = append(errs, ErrInvalidConcurrency)
	}
	// listeners of one process are replaced as a whole, one caller at a time
	if c.Inbound.Concurrency.PerProcess != 1 {
		errs = append(errs, ErrInvalidPerProcess)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ErrInvalidLogLevel)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, ErrInvalidLogFormat)
	}
	if c.Engine.ClientID != "" && c.Engine.TokenURL == "" {
		errs = append(errs, ErrIncompleteOAuth)
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
