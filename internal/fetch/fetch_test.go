package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func fastOptions() Options {
	return Options{MaxRetries: 2, Delay: 0, Timeout: time.Second}
}

func TestFetchWithRetryGivesUpOnTransportFailure(t *testing.T) {
	var attempts atomic.Int32
	transport := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		attempts.Add(1)
		return nil, errors.New("connection refused")
	})
	c := New(WithHTTPClient(&http.Client{Transport: transport}), WithOptions(fastOptions()))

	body, ok := c.FetchHTML(context.Background(), "https://unreachable.example.com")
	assert.False(t, ok)
	assert.Empty(t, body)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestFetchWithRetryRetriesNon2xx(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	defer srv.Close()

	c := New(WithOptions(fastOptions()))
	body, ok := c.FetchHTML(context.Background(), srv.URL)
	require.True(t, ok)
	assert.Contains(t, body, "<title>ok</title>")
	assert.EqualValues(t, 2, attempts.Load())
}

func TestFetchWithRetryBacksOffLinearly(t *testing.T) {
	transport := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	c := New(WithHTTPClient(&http.Client{Transport: transport}))
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, ok := c.FetchWithRetry(context.Background(), "https://unreachable.example.com", DefaultOptions())
	assert.False(t, ok)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, waits)
}

func TestFetchWithRetryStopsBackingOffOnSuccess(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New()
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, ok := c.FetchWithRetry(context.Background(), srv.URL, Options{MaxRetries: 2, Delay: 200 * time.Millisecond, Timeout: time.Second})
	require.True(t, ok)
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, waits)
}

func TestFetchWithRetryZeroRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New()
	_, ok := c.FetchWithRetry(context.Background(), srv.URL, Options{MaxRetries: 0, Timeout: time.Second})
	assert.False(t, ok)
	assert.EqualValues(t, 1, attempts.Load())
}

func TestFetchSendsBrowserHeaders(t *testing.T) {
	var ua, lang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		lang = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, ok := New(WithOptions(fastOptions())).FetchHTML(context.Background(), srv.URL)
	require.True(t, ok)
	assert.True(t, slices.Contains(userAgents, ua), "unexpected user agent %q", ua)
	assert.Equal(t, "en-US,en;q=0.9", lang)
}

func TestFetchRejectsNonHTTPSchemes(t *testing.T) {
	_, ok := New(WithOptions(fastOptions())).FetchHTML(context.Background(), "file:///etc/passwd")
	assert.False(t, ok)
}

func TestPageCacheAvoidsRefetch(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte("<p>cached</p>"))
	}))
	defer srv.Close()

	cache, err := NewPageCache(1 << 20)
	require.NoError(t, err)
	defer cache.Close()

	c := New(WithOptions(fastOptions()), WithPageCache(cache, time.Minute))
	_, ok := c.FetchHTML(context.Background(), srv.URL)
	require.True(t, ok)
	cache.Wait()

	body, ok := c.FetchHTML(context.Background(), srv.URL)
	require.True(t, ok)
	assert.Equal(t, "<p>cached</p>", body)
	assert.EqualValues(t, 1, attempts.Load())
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/logo.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte(strings.Repeat("x", 512)))
		case "/huge.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(make([]byte, MaxImageBytes+4096))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New()

	data, contentType, err := c.Download(context.Background(), srv.URL+"/logo.png")
	require.NoError(t, err)
	assert.Len(t, data, 512)
	assert.Equal(t, "image/png", contentType)

	data, _, err = c.Download(context.Background(), srv.URL+"/huge.jpg")
	require.NoError(t, err)
	assert.Len(t, data, MaxImageBytes+1)

	_, _, err = c.Download(context.Background(), srv.URL+"/missing.png")
	assert.Error(t, err)
}
