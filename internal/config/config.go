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
	Port       string
	PublicURL  string
	DBPath     string
	UploadDir  string
	GatewayURL string

	// ArtifactTTL bounds how long an unclaimed QR artifact stays fetchable.
	ArtifactTTL time.Duration

	Reconnect ReconnectConfig
}

// ReconnectConfig parameterizes the per-session reconnect policy.
type ReconnectConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "3000"),
		PublicURL:   getEnv("PUBLIC_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/walink.db"),
		UploadDir:   getEnv("UPLOAD_DIR", "./data/uploads"),
		GatewayURL:  getEnv("GATEWAY_URL", ""),
		ArtifactTTL: getEnvDuration("ARTIFACT_TTL", 2*time.Minute),
		Reconnect: ReconnectConfig{
			InitialInterval: getEnvDuration("RECONNECT_INITIAL_INTERVAL", 2*time.Second),
			MaxInterval:     getEnvDuration("RECONNECT_MAX_INTERVAL", time.Minute),
			MaxElapsedTime:  getEnvDuration("RECONNECT_MAX_ELAPSED", 30*time.Minute),
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
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL cannot be empty")
	}
	if c.ArtifactTTL <= 0 {
		return fmt.Errorf("ARTIFACT_TTL must be > 0")
	}
	if c.Reconnect.InitialInterval <= 0 {
		return fmt.Errorf("RECONNECT_INITIAL_INTERVAL must be > 0")
	}
	if c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
		return fmt.Errorf("RECONNECT_MAX_INTERVAL must be >= RECONNECT_INITIAL_INTERVAL")
	}
	return nil
}

// BaseURL returns the externally reachable URL of this server, falling back
// to localhost for development.
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimSuffix(c.PublicURL, "/")
	}
	return "http://localhost:" + c.Port
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
