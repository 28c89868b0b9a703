// Package config loads the dataforest configuration from defaults, an
// optional YAML file, and environment variable overrides, in that order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("DATAFOREST").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete dataforest configuration.
type Config struct {
	// Forest locates the tree on disk.
	Forest ForestConfig `yaml:"forest" env:"FOREST"`

	// Catalogue selects the run catalogue backend.
	Catalogue CatalogueConfig `yaml:"catalogue" env:"CATALOGUE"`

	// Database configures the catalogue database backend.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis configures the catalogue redis backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Runner bounds process execution across tree branches.
	Runner RunnerConfig `yaml:"runner" env:"RUNNER"`

	// Log configures the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OTLP export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics configures the prometheus collector.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ForestConfig locates the forest roots.
type ForestConfig struct {
	// Root is the local forest root directory.
	Root string `yaml:"root" env:"ROOT"`
	// Remote is an optional second root used by push and pull.
	Remote string `yaml:"remote" env:"REMOTE"`
}

// CatalogueConfig selects how run specs map to run ids.
type CatalogueConfig struct {
	// Backend is one of: file, memory, database, redis.
	Backend string `yaml:"backend" env:"BACKEND"`
}

// DatabaseConfig configures the catalogue database.
type DatabaseConfig struct {
	// Driver is one of: postgres, mysql, sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host of the database server.
	Host string `yaml:"host" env:"HOST"`
	// Port of the database server.
	Port int `yaml:"port" env:"PORT"`
	// User to connect as.
	User string `yaml:"user" env:"USER"`
	// Password for the user.
	Password string `yaml:"password" env:"PASSWORD"`
	// Name of the database, or the file path for sqlite.
	Name string `yaml:"name" env:"NAME"`
	// SSLMode for postgres connections.
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// MaxOpenConns caps open connections in the pool.
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// MaxIdleConns caps idle connections in the pool.
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// ConnMaxLifetime bounds how long a connection may be reused.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig configures the catalogue redis backend.
type RedisConfig struct {
	// Addr is the host:port of the redis server.
	Addr string `yaml:"addr" env:"ADDR"`
	// Password for the server, empty for none.
	Password string `yaml:"password" env:"PASSWORD"`
	// DB selects the redis database number.
	DB int `yaml:"db" env:"DB"`
	// PoolSize caps pooled connections.
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// MinIdleConns keeps warm connections available.
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// RunnerConfig bounds process execution.
type RunnerConfig struct {
	// Workers is the number of branches run concurrently during tree runs.
	Workers int `yaml:"workers" env:"WORKERS"`
	// RunRate caps run launches per second. Zero means unlimited.
	RunRate float64 `yaml:"run_rate" env:"RUN_RATE"`
	// ClearLogs removes a run's log files after it succeeds.
	ClearLogs bool `yaml:"clear_logs" env:"CLEAR_LOGS"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists zap sink URLs.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with the calling file and line.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches stack traces to error entries.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OTLP trace and metric export.
type TelemetryConfig struct {
	// Enabled turns the OTel SDK on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLPEndpoint is the collector's gRPC endpoint.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// ServiceName identifies this service in traces.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig configures the prometheus collector.
type MetricsConfig struct {
	// Enabled registers the dataforest metric families.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Loader builds a Config from defaults, a YAML file, and the environment.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the DATAFOREST env prefix and no config
// file.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DATAFOREST",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation func run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the config. Precedence: defaults, then the YAML file, then
// environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile merges the YAML file into cfg. A missing file is not an
// error; the defaults stand.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct fields, following env tags, and applies
// any set environment variables.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue parses value into the field's type.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices only.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the config from path and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv builds the config from defaults and environment variables
// only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the loaded configuration for values no component can
// work with.
func (c *Config) Validate() error {
	var errs []string

	switch c.Catalogue.Backend {
	case "file", "memory", "database", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown catalogue backend %q", c.Catalogue.Backend))
	}

	if c.Runner.Workers <= 0 {
		errs = append(errs, "runner workers must be positive")
	}
	if c.Runner.RunRate < 0 {
		errs = append(errs, "runner run_rate must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
