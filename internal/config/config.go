// Package config provides configuration for the console gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the console configuration.
type Config struct {
	// Server settings
	HTTPPort int `yaml:"http_port"` // Gateway HTTP port

	// Backend settings
	BackendURL string `yaml:"backend_url"` // MAS backend base URL

	// Persistence
	DBPath string `yaml:"db_path"` // SQLite database path

	// WebSocket settings
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Load builds configuration from environment variables, optionally overlaid
// with a YAML file named by CONSOLE_CONFIG.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:     getEnvInt("HTTP_PORT", 8080),
		BackendURL:   getEnv("BACKEND_URL", "http://localhost:8000"),
		DBPath:       getEnv("DB_PATH", "console.db"),
		DialTimeout:  time.Duration(getEnvInt("WS_DIAL_TIMEOUT_MS", 10000)) * time.Millisecond,
		WriteTimeout: time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("CONSOLE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
