// Package fetch retrieves target-site pages and images over plain HTTP GET.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const (
	// MaxPageBytes bounds how much of an HTML document is read.
	MaxPageBytes = 5 << 20
	// MaxImageBytes is the largest image a download keeps. Download reads one
	// byte past it so callers can tell an oversized body from an exact fit.
	MaxImageBytes = 10 << 20
)

// userAgents is the pool a user agent is drawn from on every request.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// Options controls the retry loop of a page fetch.
type Options struct {
	MaxRetries int
	Delay      time.Duration
	Timeout    time.Duration
}

// DefaultOptions returns the page fetch defaults: 2 retries, 500ms linear
// backoff, 15s per attempt.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 2,
		Delay:      500 * time.Millisecond,
		Timeout:    15 * time.Second,
	}
}

// Client fetches pages with retry and downloads binary assets.
type Client struct {
	http         *http.Client
	opts         Options
	imageTimeout time.Duration
	cache        *ristretto.Cache[string, string]
	cacheTTL     time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithOptions replaces the default retry options.
func WithOptions(opts Options) Option {
	return func(c *Client) { c.opts = opts }
}

// WithPageCache keeps successfully fetched pages for ttl so that overlapping
// crawls in one research run do not hit the target twice.
func WithPageCache(cache *ristretto.Cache[string, string], ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// NewPageCache builds a page cache bounded by maxBytes of HTML.
func NewPageCache(maxBytes int64) (*ristretto.Cache[string, string], error) {
	return ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxBytes / 1000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:         DefaultOptions(),
		imageTimeout: 15 * time.Second,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchHTML fetches a page with the client's default retry options.
func (c *Client) FetchHTML(ctx context.Context, rawURL string) (string, bool) {
	return c.FetchWithRetry(ctx, rawURL, c.opts)
}

// FetchWithRetry GETs rawURL, retrying transport errors and non-2xx responses
// with linear backoff (Delay * attempt). It makes at most MaxRetries+1
// attempts and reports ok=false instead of an error; callers skip the page.
func (c *Client) FetchWithRetry(ctx context.Context, rawURL string, opts Options) (string, bool) {
	if c.cache != nil {
		if body, found := c.cache.Get(rawURL); found {
			return body, true
		}
	}

	for attempt := 1; attempt <= opts.MaxRetries+1; attempt++ {
		body, err := c.get(ctx, rawURL, opts.Timeout)
		if err == nil {
			if c.cache != nil {
				c.cache.SetWithTTL(rawURL, body, int64(len(body)), c.cacheTTL)
			}
			return body, true
		}
		if attempt > opts.MaxRetries {
			break
		}
		if err := c.sleep(ctx, opts.Delay*time.Duration(attempt)); err != nil {
			break
		}
	}
	return "", false
}

func (c *Client) get(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := c.do(ctx, rawURL, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(body), nil
}

// Download fetches a binary asset in a single attempt. The body is capped at
// MaxImageBytes+1 bytes; filtering by size and type is left to the caller.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.imageTimeout)
	defer cancel()

	resp, err := c.do(ctx, rawURL, "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, errors.New("unsupported url scheme")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", RandomUserAgent())
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	return resp, nil
}

// RandomUserAgent picks a browser user agent from the pool.
func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
