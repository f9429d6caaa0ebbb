package config

import (
	"os"
	"runtime"
	"strconv"

	"fluxcov/internal/errors"
)

// Config represents the process-level configuration read from the
// environment. Analysis settings live in AnalysisConfig (TOML).
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Runtime  RuntimeConfig
}

// DatabaseConfig holds the optional results-ledger connection settings.
// An empty DSN disables the ledger entirely.
type DatabaseConfig struct {
	DSN string
}

// ServerConfig holds settings for the results browser
type ServerConfig struct {
	Port string
}

// RuntimeConfig holds worker-pool settings for the preprocessor
type RuntimeConfig struct {
	Workers int
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{}

	config.Database = *loadDatabaseConfig()
	config.Server = *loadServerConfig()
	config.Runtime = *loadRuntimeConfig()

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		DSN: getEnvOrDefault("RESULTS_DSN", ""),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port: getEnvOrDefault("PORT", "8080"),
	}
}

func loadRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Workers: getEnvIntOrDefault("FLUXCOV_WORKERS", runtime.NumCPU()),
	}
}

func validateConfig(config *Config) error {
	if config.Runtime.Workers < 1 {
		return errors.ConfigInvalid("FLUXCOV_WORKERS must be at least 1")
	}
	if config.Server.Port == "" {
		return errors.ConfigInvalid("PORT must not be empty")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
