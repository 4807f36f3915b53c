package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sykell/site-replicator/internal/model"
	"github.com/sykell/site-replicator/internal/resilience"
)

type generatedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func TestExtractJSONArrayTiers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []generatedFile
	}{
		{
			name: "strict",
			text: `[{"path":"a.ts","content":"x"}]`,
			want: []generatedFile{{Path: "a.ts", Content: "x"}},
		},
		{
			name: "fenced",
			text: "Here you go:\n```json\n[{\"path\":\"b.ts\",\"content\":\"y\"}]\n```\nDone.",
			want: []generatedFile{{Path: "b.ts", Content: "y"}},
		},
		{
			name: "bare array in prose",
			text: `Sure! [{"path":"c.ts","content":"z"}] Let me know if you need more.`,
			want: []generatedFile{{Path: "c.ts", Content: "z"}},
		},
		{
			name: "unparseable",
			text: "I cannot help with that [yet].",
			want: []generatedFile{},
		},
		{
			name: "empty",
			text: "",
			want: []generatedFile{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONArray[generatedFile](tt.text))
		})
	}
}

func TestDecodeObject(t *testing.T) {
	var plan model.BuildPlan
	require.NoError(t, DecodeObject("```\n{\"projectName\":\"clone\",\"buildSteps\":[{\"step\":1,\"title\":\"Scaffold\"}]}\n```", &plan))
	assert.Equal(t, "clone", plan.ProjectName)
	require.Len(t, plan.BuildSteps, 1)

	assert.ErrorIs(t, DecodeObject("no json here", &plan), ErrNoJSON)
}

func TestResponseText(t *testing.T) {
	decode := func(raw string) *Response {
		var r Response
		require.NoError(t, json.Unmarshal([]byte(raw), &r))
		return &r
	}

	text, ok := decode(`{"choices":[{"message":{"role":"assistant","content":"{\"a\":1}"}}]}`).Text()
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, text)

	for _, raw := range []string{
		`{"choices":[]}`,
		`{"choices":[{"message":{"role":"assistant"}}]}`,
		`{"choices":[{"message":{"role":"assistant","content":null}}]}`,
		`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}]}`,
		`{"choices":[{"message":{"role":"assistant","content":"  "}}]}`,
	} {
		_, ok := decode(raw).Text()
		assert.False(t, ok, raw)
	}

	var nilResp *Response
	_, ok = nilResp.Text()
	assert.False(t, ok)
}

func TestSchemaFor(t *testing.T) {
	data, err := json.Marshal(SchemaFor(&model.BuildPlan{}))
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")
	assert.NotContains(t, schema, "$defs")
	assert.Equal(t, false, schema["additionalProperties"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "buildSteps")
	assert.Contains(t, schema["required"], "buildSteps")
}

func TestInvoke(t *testing.T) {
	var got struct {
		Model          string          `json:"model"`
		Messages       []Message       `json:"messages"`
		ResponseFormat *ResponseFormat `json:"response_format"`
		MaxTokens      int             `json:"max_tokens"`
	}
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(&Config{BaseURL: srv.URL + "/", APIKey: "service-key", Model: "test-model", Timeout: time.Second})
	resp, err := c.Invoke(context.Background(), Request{
		SystemTag:      "replicate-research",
		APIKey:         "user-key",
		Messages:       []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}},
		ResponseFormat: StrictJSONFormat("research", &model.ResearchAnalysis{}),
		MaxTokens:      1000,
	})
	require.NoError(t, err)
	text, ok := resp.Text()
	assert.True(t, ok)
	assert.Equal(t, "ok", text)

	assert.Equal(t, "test-model", got.Model)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, 1000, got.MaxTokens)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_schema", got.ResponseFormat.Type)
	assert.Equal(t, "research", got.ResponseFormat.JSONSchema.Name)
	assert.True(t, got.ResponseFormat.JSONSchema.Strict)
	assert.Equal(t, "Bearer user-key", headers.Get("Authorization"))
	assert.Equal(t, "replicate-research", headers.Get("X-System-Tag"))
}

func TestInvokeBreaker(t *testing.T) {
	var calls atomic.Int32
	status := http.StatusBadGateway
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := NewClient(&Config{BaseURL: srv.URL, Model: "m", Timeout: time.Second})
	c.SetBreaker(resilience.NewBreaker(2, time.Hour))

	for i := 0; i < 2; i++ {
		_, err := c.Invoke(context.Background(), Request{SystemTag: "t"})
		require.Error(t, err)
	}
	_, err := c.Invoke(context.Background(), Request{SystemTag: "t"})
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.EqualValues(t, 2, calls.Load())
}

func TestInvokeClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(&Config{BaseURL: srv.URL, Model: "m", Timeout: time.Second})
	c.SetBreaker(resilience.NewBreaker(1, time.Hour))

	for i := 0; i < 3; i++ {
		_, err := c.Invoke(context.Background(), Request{SystemTag: "t"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	}
	assert.EqualValues(t, 3, calls.Load())
}
