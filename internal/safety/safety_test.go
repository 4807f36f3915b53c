package safety

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBlockedCloneTarget(t *testing.T) {
	g := NewGate(nil, Config{SelfHosts: []string{"replicator.example.com"}})

	tests := []struct {
		target  string
		blocked bool
	}{
		{"https://shop.example.com", false},
		{"shop.example.com/products", false},
		{"Joe's Pizza", false},
		{"acme", false},
		{"https://mypaypal.com", false},
		{"https://www.paypal.com/signin", true},
		{"paypal.com", true},
		{"PayPal", true},
		{"https://accounts.google.com/ServiceLogin", true},
		{"https://www.irs.gov", true},
		{"https://portal.state.gov", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1/admin", true},
		{"http://10.0.0.5", true},
		{"http://[::1]:8080", true},
		{"http://printer.local", true},
		{"https://replicator.example.com/projects", true},
		{"https://app.replicator.example.com", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.blocked, g.IsBlockedCloneTarget(tt.target))
		})
	}
}

func TestCheckTargetReasons(t *testing.T) {
	g := NewGate(nil, Config{SelfHosts: []string{"replicator.example.com"}})

	r := g.CheckTarget("https://replicator.example.com")
	assert.False(t, r.Allowed)
	assert.Contains(t, r.Reason, "cannot clone itself")

	r = g.CheckTarget("https://chase.com")
	assert.False(t, r.Allowed)
	assert.Contains(t, r.Reason, "chase.com")

	assert.Equal(t, Result{Allowed: true}, g.CheckTarget("https://bakery.example.com"))
}

func TestCheckScrapedContent(t *testing.T) {
	g := NewGate(nil, Config{})

	clean := `<html><body><h1>Fresh bread</h1><p>Sourdough daily.</p></body></html>`
	assert.True(t, g.CheckScrapedContent("https://bakery.example.com", "Bakery", clean, false).Allowed)

	adult := `<html><body><p>` + strings.Repeat("xxx videos ", 4) + `</p></body></html>`
	r := g.CheckScrapedContent("https://bad.example.com", "", adult, false)
	assert.False(t, r.Allowed)
	assert.Contains(t, r.Reason, "adult content")

	assert.True(t, g.CheckScrapedContent("https://bad.example.com/page", "", adult, true).Allowed,
		"four hits stay under the subpage threshold")

	hidden := `<html><body><script>var tags = "porn porn porn porn";</script><p>Garden tools</p></body></html>`
	assert.True(t, g.CheckScrapedContent("https://garden.example.com", "", hidden, false).Allowed)

	self := `<html><head><meta name="generator" content="site-replicator 1.0"></head></html>`
	r = g.CheckScrapedContent("https://clone.example.com", "", self, false)
	assert.False(t, r.Allowed)
	assert.Contains(t, r.Reason, "served by this application")

	assert.False(t, g.CheckScrapedContent("https://example.com", "PayPal", clean, false).Allowed)
	assert.False(t, g.CheckScrapedContent("http://192.168.1.10", "", clean, false).Allowed)
}

func TestParseRules(t *testing.T) {
	r, err := ParseRules([]byte(`
blocked_hosts: [Example.COM]
prohibited_content:
  - category: test
    keywords: [Bad Word]
    homepage_threshold: 1
    subpage_threshold: 0
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com"}, r.BlockedHosts)

	g := NewGate(r, Config{})
	assert.True(t, g.IsBlockedCloneTarget("https://www.example.com"))
	assert.False(t, g.CheckScrapedContent("https://ok.example.org", "", "<p>a bad word</p>", false).Allowed)
	assert.True(t, g.CheckScrapedContent("https://ok.example.org", "", "<p>a bad word</p>", true).Allowed)

	_, err = ParseRules([]byte(`blocked_hosts: {`))
	assert.Error(t, err)
}

func TestNewConfig(t *testing.T) {
	t.Setenv("APP_HOSTS", " Replicator.example.com, ,api.example.com")
	assert.Equal(t, []string{"replicator.example.com", "api.example.com"}, NewConfig().SelfHosts)
}
