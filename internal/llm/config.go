package llm

import (
	"os"
	"time"
)

// Config holds the LLM service settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewConfig creates config from environment variables with defaults
func NewConfig() *Config {
	return &Config{
		BaseURL: getEnvOrDefault("LLM_BASE_URL", "http://localhost:4000"),
		APIKey:  os.Getenv("LLM_API_KEY"),
		Model:   getEnvOrDefault("LLM_MODEL", "gpt-4o"),
		Timeout: getEnvDurationOrDefault("LLM_TIMEOUT", 5*time.Minute),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
