package github

import (
	"os"
	"time"
)

// Config holds GitHub API settings.
type Config struct {
	BaseURL string
	Branch  string
	Timeout time.Duration
}

// NewConfig creates config from environment variables with defaults
func NewConfig() *Config {
	baseURL := os.Getenv("GITHUB_API_URL")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Config{
		BaseURL: baseURL,
		Branch:  "main",
		Timeout: 30 * time.Second,
	}
}
