package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	// ErrorModePrecise maps backend failures to 502, 503 and 504.
	ErrorModePrecise = "precise"
	// ErrorModeCompat maps every backend failure to 500.
	ErrorModeCompat = "compat"
)

// EnvConfigFile names an explicit config file, overriding the search paths.
const EnvConfigFile = "ROUTER_CONFIG"

// DefaultServices is the registry used when no services are configured.
func DefaultServices() map[string]string {
	return map[string]string{
		"orchestrator":   "http://orchestrator:8080",
		"context-broker": "http://context-broker:8081",
		"memory-service": "http://memory-service:8083",
	}
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Environment     string        `mapstructure:"environment"`
	ServiceName     string        `mapstructure:"service_name"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type RoutingConfig struct {
	// Strategy is reported by /health only; there is one backend per service.
	Strategy    string        `mapstructure:"strategy"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ErrorMode   string        `mapstructure:"error_mode"`
	WatchConfig bool          `mapstructure:"watch_config"`
}

type HealthCheckConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type CircuitBreakerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold int           `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type SecurityConfig struct {
	Headers bool `mapstructure:"headers"`
}

type MetricsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
}

type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Routing        RoutingConfig        `mapstructure:"routing"`
	Services       map[string]string    `mapstructure:"services"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	CORS           CORSConfig           `mapstructure:"cors"`
	Security       SecurityConfig       `mapstructure:"security"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Tracing        TracingConfig        `mapstructure:"tracing"`

	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8082")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.service_name", "router")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "45s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "35s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("routing.strategy", "round-robin")
	v.SetDefault("routing.timeout", "30s")
	v.SetDefault("routing.error_mode", ErrorModePrecise)
	v.SetDefault("routing.watch_config", false)
	v.SetDefault("health_check.enabled", false)
	v.SetDefault("health_check.interval", "10s")
	v.SetDefault("circuit_breaker.enabled", false)
	v.SetDefault("circuit_breaker.threshold", 5)
	v.SetDefault("circuit_breaker.timeout", "30s")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("security.headers", true)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.buffer_size", 1024)
	v.SetDefault("tracing.endpoint", "")
}

// Load reads, merges and validates the configuration.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(EnvConfigFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindEnv("logging.level", "LOGGING_LEVEL", "LOG_LEVEL"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	cfg, err := build(v)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// build turns the current viper state into a validated Config.
func build(v *viper.Viper) (*Config, error) {
	cfg := Config{v: v}
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ConfigFile returns the file the configuration was read from, if any.
func (c *Config) ConfigFile() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}
