package logging

import (
	"os"
	"strconv"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// GetConfigFromEnv creates a logger configuration based on environment variables
func GetConfigFromEnv() Config {
	config := DefaultConfig

	// Get log level from environment
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = strings.ToLower(level)
	}

	// Get log format from environment
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = strings.ToLower(format)
	}

	// Get environment
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = strings.ToLower(env)
	}

	// Get add source setting
	if addSource := os.Getenv("LOG_ADD_SOURCE"); addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}

	// Rotating file output
	if file := os.Getenv("LOG_FILE"); file != "" {
		config.File = file
	}
	if size := os.Getenv("LOG_MAX_SIZE_MB"); size != "" {
		if n, err := strconv.Atoi(size); err == nil && n > 0 {
			config.MaxSizeMB = n
		}
	}
	if backups := os.Getenv("LOG_MAX_BACKUPS"); backups != "" {
		if n, err := strconv.Atoi(backups); err == nil && n >= 0 {
			config.MaxBackups = n
		}
	}

	// Environment-specific defaults
	switch config.Environment {
	case EnvProduction:
		// Production: JSON format, INFO level, no source info for performance
		if config.Format == "" {
			config.Format = "json"
		}
		if config.Level == "" {
			config.Level = "info"
		}
		config.AddSource = false

	case EnvTest:
		// Test: Text format for readability, DEBUG level
		if config.Format == "" {
			config.Format = "text"
		}
		if config.Level == "" {
			config.Level = "debug"
		}
		config.AddSource = false

	case EnvDevelopment:
		// Development: Text format for readability, DEBUG level, source info
		if config.Format == "" {
			config.Format = "text"
		}
		if config.Level == "" {
			config.Level = "debug"
		}
		config.AddSource = true
	}

	return config
}

// Fatal logs at error level using the default logger and exits the program.
func Fatal(msg string, attrs ...any) {
	Default().Error(msg, attrs...)
	os.Exit(1)
}
