package config

import "time"

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() *Config {
	return &Config{
		Forest:    DefaultForestConfig(),
		Catalogue: DefaultCatalogueConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Runner:    DefaultRunnerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultForestConfig returns the default forest locations. Root stays
// empty; commands require it via flag or config.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Root:   "",
		Remote: "",
	}
}

// DefaultCatalogueConfig returns the default catalogue backend.
func DefaultCatalogueConfig() CatalogueConfig {
	return CatalogueConfig{
		Backend: "file",
	}
}

// DefaultDatabaseConfig returns the default catalogue database settings.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "dataforest",
		Password:        "",
		Name:            "dataforest",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig returns the default redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultRunnerConfig returns the default execution bounds.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:   4,
		RunRate:   0,
		ClearLogs: false,
	}
}

// DefaultLogConfig returns the default logger settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "dataforest",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig returns the default metrics settings.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "dataforest",
	}
}
