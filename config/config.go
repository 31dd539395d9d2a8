package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	AuthURL        string        // Identity provider base URL
	APIURL         string        // Marketplace API base URL
	StorePath      string        // Credential store database path
	RequestTimeout time.Duration // Per-request timeout for API calls
	RefreshTimeout time.Duration // Timeout for a provider refresh round trip
	RateLimitRPS   float64       // Client-side dispatch rate (0 disables throttling)
	RateLimitBurst int           // Burst size for the dispatch limiter
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		AuthURL:        getEnv("PUPLINK_AUTH_URL", "https://auth.puplink.example"),
		APIURL:         getEnv("PUPLINK_API_URL", "https://api.puplink.example"),
		StorePath:      getEnv("AUTHKIT_STORE_PATH", defaultStorePath()),
		RequestTimeout: 30 * time.Second,
		RefreshTimeout: 15 * time.Second,
		RateLimitRPS:   0,
		RateLimitBurst: 1,
	}

	if timeoutStr := os.Getenv("AUTHKIT_REQUEST_TIMEOUT"); timeoutStr != "" {
		duration, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTHKIT_REQUEST_TIMEOUT format: %w", err)
		}
		config.RequestTimeout = duration
	}

	if timeoutStr := os.Getenv("AUTHKIT_REFRESH_TIMEOUT"); timeoutStr != "" {
		duration, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTHKIT_REFRESH_TIMEOUT format: %w", err)
		}
		config.RefreshTimeout = duration
	}

	if rpsStr := os.Getenv("AUTHKIT_RATE_LIMIT_RPS"); rpsStr != "" {
		rps, err := strconv.ParseFloat(rpsStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTHKIT_RATE_LIMIT_RPS format: %w", err)
		}
		config.RateLimitRPS = rps
	}

	if burstStr := os.Getenv("AUTHKIT_RATE_LIMIT_BURST"); burstStr != "" {
		burst, err := strconv.Atoi(burstStr)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTHKIT_RATE_LIMIT_BURST format: %w", err)
		}
		config.RateLimitBurst = burst
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.AuthURL == "" {
		return fmt.Errorf("PUPLINK_AUTH_URL cannot be empty")
	}

	if c.APIURL == "" {
		return fmt.Errorf("PUPLINK_API_URL cannot be empty")
	}

	if c.StorePath == "" {
		return fmt.Errorf("AUTHKIT_STORE_PATH cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("AUTHKIT_REQUEST_TIMEOUT must be positive")
	}

	if c.RefreshTimeout <= 0 {
		return fmt.Errorf("AUTHKIT_REFRESH_TIMEOUT must be positive")
	}

	if c.RateLimitRPS < 0 {
		return fmt.Errorf("AUTHKIT_RATE_LIMIT_RPS cannot be negative")
	}

	return nil
}

// defaultStorePath places the credential database under the user's home
// directory, falling back to the working directory when home is unknown.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "authkit.db"
	}
	return filepath.Join(home, ".puplink", "authkit.db")
}

// getEnv retrieves an environment variable or returns a fallback value
func getEnv(key, fallback string) string {
	// Check for _FILE suffix
	if fileValue := os.Getenv(key + "_FILE"); fileValue != "" {
		content, err := os.ReadFile(fileValue)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
