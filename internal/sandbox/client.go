// Package sandbox is the client of the remote per-user execution service:
// isolated workspaces exposing command and file primitives.
package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sykell/site-replicator/internal/resilience"
)

// ErrNotFound is returned when a sandbox or file does not exist.
var ErrNotFound = errors.New("sandbox resource not found")

// Limits are the resources requested for a new sandbox.
type Limits struct {
	CPUs     int `json:"cpus"`
	MemoryMB int `json:"memoryMb"`
	DiskMB   int `json:"diskMb"`
}

// ExecOptions controls a single command execution.
type ExecOptions struct {
	Timeout          time.Duration
	WorkingDirectory string
}

// ExecResult is the outcome of a command. A non-zero exit code is not an error.
type ExecResult struct {
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output"`
}

// FileEntry is one entry of a workspace listing.
type FileEntry struct {
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
}

// Client calls the sandbox service.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new sandbox client.
func NewClient(cfg *Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// CreateSandbox provisions a workspace for userID and returns its ID.
func (c *Client) CreateSandbox(ctx context.Context, userID uint, name string, limits Limits) (string, error) {
	if limits == (Limits{}) {
		limits = c.cfg.Limits
	}
	in := map[string]any{"userId": userID, "name": name, "limits": limits}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes", nil, in, &out, c.cfg.Timeout); err != nil {
		return "", fmt.Errorf("create sandbox: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("create sandbox: empty id in response")
	}
	return out.ID, nil
}

// ExecuteCommand runs command in the sandbox and waits for it to exit.
func (c *Client) ExecuteCommand(ctx context.Context, sandboxID string, userID uint, command string, opts ExecOptions) (*ExecResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = c.cfg.CommandTimeout
	}
	in := map[string]any{
		"userId":           userID,
		"command":          command,
		"timeoutMs":        opts.Timeout.Milliseconds(),
		"workingDirectory": opts.WorkingDirectory,
	}
	var out ExecResult
	// The service enforces timeoutMs; the extra slack covers transfer time.
	if err := c.do(ctx, http.MethodPost, c.path(sandboxID, "exec"), nil, in, &out, opts.Timeout+15*time.Second); err != nil {
		return nil, fmt.Errorf("execute command: %w", err)
	}
	return &out, nil
}

// WriteFile writes text content to path, creating parent directories.
func (c *Client) WriteFile(ctx context.Context, sandboxID string, userID uint, path, content string) error {
	return c.writeFile(ctx, sandboxID, userID, path, content, "utf8")
}

// WriteBinaryFile writes raw bytes to path. Content travels base64-encoded in
// the request body rather than through a shell command.
func (c *Client) WriteBinaryFile(ctx context.Context, sandboxID string, userID uint, path string, data []byte) error {
	return c.writeFile(ctx, sandboxID, userID, path, base64.StdEncoding.EncodeToString(data), "base64")
}

func (c *Client) writeFile(ctx context.Context, sandboxID string, userID uint, path, content, encoding string) error {
	in := map[string]any{"userId": userID, "path": path, "content": content, "encoding": encoding}
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodPut, c.path(sandboxID, "files"), nil, in, &out, c.cfg.Timeout); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if !out.Success {
		return fmt.Errorf("write %s: rejected by sandbox", path)
	}
	return nil
}

// ReadFile returns the text content of path. ok is false when the file does
// not exist.
func (c *Client) ReadFile(ctx context.Context, sandboxID string, userID uint, path string) (string, bool, error) {
	query := url.Values{"userId": {strconv.FormatUint(uint64(userID), 10)}, "path": {path}}
	var out struct {
		Content string `json:"content"`
	}
	err := c.do(ctx, http.MethodGet, c.path(sandboxID, "files"), query, nil, &out, c.cfg.Timeout)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	return out.Content, true, nil
}

// ReadBinaryFile returns the raw bytes of path, transferred base64 encoded.
// ok is false when the file does not exist.
func (c *Client) ReadBinaryFile(ctx context.Context, sandboxID string, userID uint, path string) ([]byte, bool, error) {
	query := url.Values{"userId": {strconv.FormatUint(uint64(userID), 10)}, "path": {path}, "encoding": {"base64"}}
	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	err := c.do(ctx, http.MethodGet, c.path(sandboxID, "files"), query, nil, &out, c.cfg.Timeout)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	if out.Encoding != "base64" {
		return []byte(out.Content), true, nil
	}
	data, err := base64.StdEncoding.DecodeString(out.Content)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: decode content: %w", path, err)
	}
	return data, true, nil
}

// ListFiles lists the workspace tree below path recursively.
func (c *Client) ListFiles(ctx context.Context, sandboxID string, userID uint, path string) ([]FileEntry, error) {
	query := url.Values{"userId": {strconv.FormatUint(uint64(userID), 10)}, "path": {path}}
	var out struct {
		Files []FileEntry `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, c.path(sandboxID, "tree"), query, nil, &out, c.cfg.Timeout); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return out.Files, nil
}

// PersistWorkspace snapshots the workspace to the service's durable storage.
func (c *Client) PersistWorkspace(ctx context.Context, sandboxID string, userID uint) error {
	in := map[string]any{"userId": userID}
	if err := c.do(ctx, http.MethodPost, c.path(sandboxID, "persist"), nil, in, nil, 5*time.Minute); err != nil {
		return fmt.Errorf("persist workspace: %w", err)
	}
	return nil
}

func (c *Client) path(sandboxID, action string) string {
	return "/v1/sandboxes/" + url.PathEscape(sandboxID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any, timeout time.Duration) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	call := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			return resilience.Permanent(ErrNotFound)
		}
		if resp.StatusCode >= 400 {
			apiErr := fmt.Errorf("sandbox API error %d: %s", resp.StatusCode, truncate(string(data), 500))
			if resp.StatusCode < 500 {
				return resilience.Permanent(apiErr)
			}
			return apiErr
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return resilience.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
		return nil
	}

	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
