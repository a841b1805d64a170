// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds pglive server configuration.
type Config struct {
	Addr     string `yaml:"addr"`
	Driver   string `yaml:"driver"` // "pgx" | "postgres"
	DSN      string `yaml:"dsn"`
	LogLevel string `yaml:"log_level"`
	// Development switches zap to its console encoder.
	Development bool `yaml:"development"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// ClientBuffer is the number of messages queued per WebSocket client
	// before the client is dropped.
	ClientBuffer int `yaml:"client_buffer"`
}

// ErrDSNRequired is returned when no database is configured.
var ErrDSNRequired = errors.New("dsn is required (set PGLIVE_DSN or dsn in the config file)")

func Default() Config {
	return Config{
		Addr:            ":8080",
		Driver:          "pgx",
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
		ClientBuffer:    256,
	}
}

// Load reads path when non-empty, then applies PGLIVE_ADDR, PGLIVE_DRIVER,
// PGLIVE_DSN, PGLIVE_LOG_LEVEL, PGLIVE_DEV and PGLIVE_CLIENT_BUFFER.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.Addr = getEnv("PGLIVE_ADDR", c.Addr)
	c.Driver = getEnv("PGLIVE_DRIVER", c.Driver)
	c.DSN = getEnv("PGLIVE_DSN", c.DSN)
	c.LogLevel = getEnv("PGLIVE_LOG_LEVEL", c.LogLevel)
	c.Development = getEnvBool("PGLIVE_DEV", c.Development)
	c.ClientBuffer = getEnvInt("PGLIVE_CLIENT_BUFFER", c.ClientBuffer)
	return c, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err == nil {
			return b
		}
	}
	return defaultVal
}

// Validate returns an error if required fields are missing or invalid.
func (c Config) Validate() error {
	if c.DSN == "" {
		return ErrDSNRequired
	}
	switch c.Driver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("unknown driver %q: must be pgx or postgres", c.Driver)
	}
	if c.ClientBuffer <= 0 {
		return fmt.Errorf("client_buffer must be positive, got %d", c.ClientBuffer)
	}
	return nil
}
