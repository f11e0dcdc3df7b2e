package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/hinge/pkg/archive"
	"github.com/platinummonkey/hinge/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Config holds all launcher configuration
type Config struct {
	// Plugin discovery and runtime
	Runtime RuntimeConfig

	// Admin HTTP server
	Admin AdminConfig

	// Periodic state persistence
	Save SaveConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// RuntimeConfig holds plugin context settings
type RuntimeConfig struct {
	// PluginPath lists extra search directories, in order
	PluginPath []string
	// KeyPolicy selects how descriptors are keyed in archives
	KeyPolicy archive.KeyPolicy
	// AsyncWorkers sizes the pool for asynchronous runnables. Zero runs
	// them inline.
	AsyncWorkers int
	// SymbolCacheSize bounds the instances a module handle remembers
	SymbolCacheSize int
	// ModuleCache shares one handle per module path. Disabling it opens
	// every Load afresh.
	ModuleCache bool
	// LuaTimeout bounds each call into a Lua module. Zero disables it.
	LuaTimeout time.Duration
}

// AdminConfig holds admin server configuration
type AdminConfig struct {
	// Addr enables the server when non-empty
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// SaveConfig holds persistence settings
type SaveConfig struct {
	// File enables save and restore when non-empty
	File string
	// Schedule is a cron expression for periodic saves. Empty saves only
	// on shutdown.
	Schedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  logrus.Level
	LogFormat string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// Tracing converts the OpenTelemetry settings for observability.InitTracing
func (o ObservabilityConfig) Tracing() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	runtime, err := loadRuntimeConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Runtime:       runtime,
		Admin:         loadAdminConfig(),
		Save:          loadSaveConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadRuntimeConfig loads plugin runtime configuration from environment
func loadRuntimeConfig() (RuntimeConfig, error) {
	policy, err := archive.ParseKeyPolicy(getEnv("HINGE_KEY_POLICY", archive.KeyByID.String()))
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("invalid HINGE_KEY_POLICY: %w", err)
	}

	return RuntimeConfig{
		PluginPath:      getEnvPathList("HINGE_PLUGIN_PATH"),
		KeyPolicy:       policy,
		AsyncWorkers:    getEnvInt("HINGE_ASYNC_WORKERS", 4),
		SymbolCacheSize: getEnvInt("HINGE_SYMBOL_CACHE_SIZE", 64),
		ModuleCache:     getEnvBool("HINGE_MODULE_CACHE", true),
		LuaTimeout:      getEnvDuration("HINGE_LUA_TIMEOUT", 0),
	}, nil
}

// loadAdminConfig loads admin server configuration from environment
func loadAdminConfig() AdminConfig {
	return AdminConfig{
		Addr:            getEnv("HINGE_ADMIN_ADDR", ""),
		ReadTimeout:     getEnvDuration("HINGE_ADMIN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("HINGE_ADMIN_WRITE_TIMEOUT", 15*time.Second),
		ShutdownTimeout: getEnvDuration("HINGE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadSaveConfig loads persistence configuration from environment
func loadSaveConfig() SaveConfig {
	return SaveConfig{
		File:     getEnv("HINGE_SAVE_FILE", ""),
		Schedule: getEnv("HINGE_SAVE_SCHEDULE", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("HINGE_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("HINGE_LOG_FORMAT", "text")),
		MetricsEnabled:     getEnvBool("HINGE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("HINGE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("HINGE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("HINGE_OTEL_SERVICE_NAME", "hinge-launch"),
		OTelServiceVersion: getEnv("HINGE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("HINGE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Runtime.AsyncWorkers < 0 {
		return fmt.Errorf("async workers must not be negative")
	}
	if c.Runtime.SymbolCacheSize <= 0 {
		return fmt.Errorf("symbol cache size must be positive")
	}

	switch c.Observability.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Observability.LogFormat)
	}

	if c.Save.Schedule != "" {
		if c.Save.File == "" {
			return fmt.Errorf("save schedule requires a save file")
		}
		if _, err := cron.ParseStandard(c.Save.Schedule); err != nil {
			return fmt.Errorf("invalid save schedule %q: %w", c.Save.Schedule, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvPathList splits a path list variable, dropping empty entries
func getEnvPathList(key string) []string {
	var dirs []string
	for _, dir := range filepath.SplitList(os.Getenv(key)) {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
