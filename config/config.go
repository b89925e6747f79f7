// Package config provides configuration for the flow server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., ":3000").
	Listen string
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string
	// RedisAddr moves sessions to Redis when set.
	RedisAddr string
	// RedisPrefix prefixes every Redis key.
	RedisPrefix string
	// SessionTTL expires Redis sessions; zero keeps them forever.
	SessionTTL time.Duration
	// LogLevel is a golog level name.
	LogLevel string
	// MaxAutoSteps bounds auto-advance through non-interactive nodes.
	MaxAutoSteps int
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	return &Config{
		Listen:       getEnv("FLOW_LISTEN", ":3000"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisPrefix:  getEnv("REDIS_PREFIX", "flow:"),
		SessionTTL:   getEnvDuration("FLOW_SESSION_TTL", 0),
		LogLevel:     getEnv("FLOW_LOG_LEVEL", "info"),
		MaxAutoSteps: getEnvInt("FLOW_MAX_AUTO_STEPS", 1000),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
