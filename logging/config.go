package logging

import (
	"os"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// GetConfigFromEnv overlays LOG_LEVEL, LOG_FORMAT, ENVIRONMENT and
// LOG_ADD_SOURCE onto base.
func GetConfigFromEnv(base Config) Config {
	config := base

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = strings.ToLower(env)
		switch config.Environment {
		case EnvProduction:
			config.Format = "json"
			config.AddSource = false
		case EnvTest:
			config.Format = "text"
			config.Level = "debug"
			config.AddSource = false
		case EnvDevelopment:
			config.Format = "text"
			config.Level = "debug"
			config.AddSource = true
		}
	}

	// Explicit settings win over environment presets.
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = strings.ToLower(format)
	}
	if addSource := os.Getenv("LOG_ADD_SOURCE"); addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}

	return config
}
