// Package storage puts blobs into the object storage service.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sykell/site-replicator/internal/resilience"
)

// Config holds the storage service settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewConfig creates config from environment variables with defaults
func NewConfig() *Config {
	baseURL := os.Getenv("STORAGE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:9090"
	}
	return &Config{
		BaseURL: baseURL,
		APIKey:  os.Getenv("STORAGE_API_KEY"),
		Timeout: 60 * time.Second,
	}
}

// Client uploads blobs.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new storage client.
func NewClient(cfg *Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Put stores data under key and returns its public URL.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errors.New("storage key is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/storage/upload?path=" + url.QueryEscape(key)

	var out struct {
		URL string `json:"url"`
	}
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", contentType)
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			apiErr := fmt.Errorf("storage API error %d: %s", resp.StatusCode, string(body))
			if resp.StatusCode < 500 {
				return resilience.Permanent(apiErr)
			}
			return apiErr
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return resilience.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return out.URL, nil
}
