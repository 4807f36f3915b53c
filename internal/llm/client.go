// Package llm is the client of the structured-generation service.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sykell/site-replicator/internal/resilience"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat constrains the shape of the completion.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema is a named strict schema for a json_schema response format.
type JSONSchema struct {
	Name   string `json:"name"`
	Strict bool   `json:"strict"`
	Schema any    `json:"schema"`
}

// Request is one invocation. SystemTag names the call site; APIKey, when
// set, is the user's own key and replaces the service key.
type Request struct {
	SystemTag      string
	APIKey         string
	Messages       []Message
	ResponseFormat *ResponseFormat
	MaxTokens      int
}

// Response is the completion envelope.
type Response struct {
	Choices []Choice `json:"choices"`
}

// Choice is one completion alternative.
type Choice struct {
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// Text returns the content of the first choice. ok is false when there is
// no choice or the content is missing, null, empty or not a string.
func (r *Response) Text() (string, bool) {
	if r == nil || len(r.Choices) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(r.Choices[0].Message.Content, &s); err != nil {
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new LLM client.
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

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
}

// Invoke sends req and decodes the completion envelope.
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(completionRequest{
		Model:          c.cfg.Model,
		Messages:       req.Messages,
		ResponseFormat: req.ResponseFormat,
		MaxTokens:      req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	apiKey := c.cfg.APIKey
	if req.APIKey != "" {
		apiKey = req.APIKey
	}

	var out Response
	call := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		}
		if req.SystemTag != "" {
			httpReq.Header.Set("X-System-Tag", req.SystemTag)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			apiErr := fmt.Errorf("llm API error %d: %s", resp.StatusCode, truncate(string(data), 500))
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return resilience.Permanent(apiErr)
			}
			return apiErr
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return resilience.Permanent(fmt.Errorf("unmarshal completion: %w", err))
		}
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", req.SystemTag, err)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
