// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// Scheduler.
	MaxConcurrentWork int
	ExecTimeout       time.Duration // 0 disables the watchdog

	// Session cache.
	SessionTTL    time.Duration
	SweepInterval time.Duration

	// Messaging.
	ResponseTimeout time.Duration

	// Progress trackers.
	ProgressGracePeriod time.Duration

	SSE       SSEConfig
	RateLimit RateLimitConfig
}

// SSEConfig controls the live-update stream endpoint.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
	ReplayQueueSize    int
}

// RateLimitConfig controls per-user request throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		FrontendURL:         getEnv("FRONTEND_URL", ""),
		DBPath:              getEnv("DB_PATH", "./data/sidework.db"),
		MaxConcurrentWork:   getEnvInt("MAX_CONCURRENT_WORK", 3),
		ExecTimeout:         getEnvDuration("ASYNC_EXEC_TIMEOUT", 10*time.Minute),
		SessionTTL:          getEnvDuration("SESSION_TTL", time.Hour),
		SweepInterval:       getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		ResponseTimeout:     getEnvDuration("RESPONSE_TIMEOUT", 5*time.Minute),
		ProgressGracePeriod: getEnvDuration("PROGRESS_GRACE_PERIOD", 60*time.Second),
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 30*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("SSE_MAX_REQUEST_BODY_SIZE", 1<<20)),
			ReplayQueueSize:    getEnvInt("SSE_REPLAY_QUEUE_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxConcurrentWork <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_WORK must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("RESPONSE_TIMEOUT must be > 0")
	}
	if c.ExecTimeout < 0 {
		return fmt.Errorf("ASYNC_EXEC_TIMEOUT cannot be negative")
	}
	if c.SSE.ReplayQueueSize <= 0 {
		return fmt.Errorf("SSE_REPLAY_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
