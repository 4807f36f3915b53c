package sandbox

import (
	"os"
	"strconv"
	"time"
)

// Config holds the sandbox service settings.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	CommandTimeout time.Duration
	Limits         Limits
}

// NewConfig creates config from environment variables with defaults
func NewConfig() *Config {
	return &Config{
		BaseURL:        getEnvOrDefault("SANDBOX_URL", "http://localhost:7070"),
		APIKey:         os.Getenv("SANDBOX_API_KEY"),
		Timeout:        30 * time.Second,
		CommandTimeout: 120 * time.Second,
		Limits: Limits{
			CPUs:     getEnvIntOrDefault("SANDBOX_CPUS", 2),
			MemoryMB: getEnvIntOrDefault("SANDBOX_MEMORY_MB", 4096),
			DiskMB:   getEnvIntOrDefault("SANDBOX_DISK_MB", 10240),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}
