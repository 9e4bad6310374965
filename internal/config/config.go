package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

type Config struct {
	SocketURL    string
	APIBaseURL   string
	SnapshotFile string
	DialTimeout  time.Duration
}

func Load() (*Config, error) {
	dialTimeout, err := time.ParseDuration(getEnv("DIAL_TIMEOUT", "10s"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SocketURL:    getEnv("PALAVER_SOCKET_URL", "ws://localhost:8900/socket"),
		APIBaseURL:   getEnv("PALAVER_API_URL", "http://localhost:8900"),
		SnapshotFile: getEnv("PALAVER_DB", "palaver.db"),
		DialTimeout:  dialTimeout,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.SocketURL)
	if err != nil {
		return fmt.Errorf("PALAVER_SOCKET_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("PALAVER_SOCKET_URL must use ws or wss scheme, got %q", u.Scheme)
	}

	if _, err := url.Parse(c.APIBaseURL); err != nil {
		return fmt.Errorf("PALAVER_API_URL is not a valid URL: %w", err)
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("DIAL_TIMEOUT must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
