// Package config provides configuration structures and loading logic for the workbench.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the workbench.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Engine    EngineConfig    `yaml:"engine"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the admin HTTP server.
type ServerConfig struct {
	AdminAddress string `yaml:"admin_address"`
}

// DatabaseConfig holds configuration for the SQLite connection pool.
type DatabaseConfig struct {
	Path             string `yaml:"path"`
	MaxConnections   int    `yaml:"max_connections"`
	AcquireTimeoutMs int    `yaml:"acquire_timeout_ms"`
}

// AcquireTimeout returns the configured acquire timeout as a duration.
func (c *DatabaseConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMs) * time.Millisecond
}

// EngineConfig holds configuration for the PII engine.
type EngineConfig struct {
	// Binding selects how the engine runs: "native" (in-process) or
	// "sidecar" (external process over stdio).
	Binding       string `yaml:"binding"`
	MinIntervalMs int    `yaml:"min_interval_ms"`
	MaxTextLength int    `yaml:"max_text_length"`

	// EmailValidation and CardValidation select the validation strategy
	// applied to regex matches before they count as findings.
	EmailValidation string `yaml:"email_validation"`
	CardValidation  string `yaml:"card_validation"`

	// RulesFile points to a YAML file of custom detection rules, watched
	// for changes at runtime.
	RulesFile string `yaml:"rules_file"`

	Sidecar SidecarConfig `yaml:"sidecar"`
}

// MinInterval returns the configured dispatch interval as a duration.
func (c *EngineConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}

// SidecarConfig holds configuration for the sidecar engine binding.
type SidecarConfig struct {
	Command []string `yaml:"command"`
	WorkDir string   `yaml:"work_dir"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration populated with defaults. Test runs get a
// shorter database acquire timeout so a saturated pool fails fast instead of
// stalling the suite.
func Default() *Config {
	acquireTimeout := 30_000
	if testEnvironment() {
		acquireTimeout = 5_000
	}

	return &Config{
		Server: ServerConfig{
			AdminAddress: ":19099",
		},
		Database: DatabaseConfig{
			Path:             "workbench.db",
			MaxConnections:   10,
			AcquireTimeoutMs: acquireTimeout,
		},
		Engine: EngineConfig{
			Binding:         "native",
			MinIntervalMs:   334,
			MaxTextLength:   100_000,
			EmailValidation: "validator",
			CardValidation:  "luhn",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func testEnvironment() bool {
	return os.Getenv("GO_ENV") == "test" || os.Getenv("CI") != ""
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("WORKBENCH_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}

	if val := os.Getenv("WORKBENCH_DB_PATH"); val != "" {
		cfg.Database.Path = val
	}
	if val := os.Getenv("WORKBENCH_DB_MAX_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Database.MaxConnections = n
		}
	}
	if val := os.Getenv("WORKBENCH_DB_ACQUIRE_TIMEOUT_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Database.AcquireTimeoutMs = n
		}
	}

	if val := os.Getenv("WORKBENCH_ENGINE_BINDING"); val != "" {
		cfg.Engine.Binding = val
	}
	if val := os.Getenv("WORKBENCH_ENGINE_MIN_INTERVAL_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Engine.MinIntervalMs = n
		}
	}
	if val := os.Getenv("WORKBENCH_ENGINE_RULES_FILE"); val != "" {
		cfg.Engine.RulesFile = val
	}

	if val := os.Getenv("WORKBENCH_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("WORKBENCH_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("WORKBENCH_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("WORKBENCH_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database configuration: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = ":19099"
	}
	return nil
}

// Validate performs validation of database configuration
func (c *DatabaseConfig) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("path must not be empty")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", c.MaxConnections)
	}
	if c.AcquireTimeoutMs < 1 {
		return fmt.Errorf("acquire_timeout_ms must be positive, got %d", c.AcquireTimeoutMs)
	}
	return nil
}

// Validate performs validation of engine configuration
func (c *EngineConfig) Validate() error {
	binding := strings.TrimSpace(strings.ToLower(c.Binding))
	switch binding {
	case "native", "sidecar":
		c.Binding = binding
	case "":
		c.Binding = "native"
	default:
		return fmt.Errorf("invalid binding %q, supported bindings: native, sidecar", c.Binding)
	}

	if c.Binding == "sidecar" && len(c.Sidecar.Command) == 0 {
		return fmt.Errorf("sidecar binding requires sidecar.command")
	}

	if c.MinIntervalMs < 0 {
		return fmt.Errorf("min_interval_ms must not be negative, got %d", c.MinIntervalMs)
	}
	if c.MaxTextLength < 0 {
		return fmt.Errorf("max_text_length must not be negative, got %d", c.MaxTextLength)
	}

	switch c.EmailValidation {
	case "", "regex", "validator", "hybrid":
	default:
		return fmt.Errorf("invalid email_validation %q, supported: regex, validator, hybrid", c.EmailValidation)
	}
	switch c.CardValidation {
	case "", "basic", "luhn", "full":
	default:
		return fmt.Errorf("invalid card_validation %q, supported: basic, luhn, full", c.CardValidation)
	}

	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "":
		c.Format = "json"
	case "json", "text":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q, supported formats: json, text", c.Format)
	}

	return nil
}
