// Package safety decides whether a site may be cloned. Every check is a
// pass/fail gate without retry and runs before the data it guards is used.
package safety

import (
	_ "embed"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// ContentRule rejects pages whose visible text mentions its keywords too often.
type ContentRule struct {
	Category          string   `yaml:"category"`
	Keywords          []string `yaml:"keywords"`
	HomepageThreshold int      `yaml:"homepage_threshold"`
	SubpageThreshold  int      `yaml:"subpage_threshold"`
}

// Rules is the clone-target policy.
type Rules struct {
	BlockedTLDs       []string      `yaml:"blocked_tlds"`
	BlockedHosts      []string      `yaml:"blocked_hosts"`
	BlockedNames      []string      `yaml:"blocked_names"`
	LocalSuffixes     []string      `yaml:"local_suffixes"`
	SelfMarkers       []string      `yaml:"self_markers"`
	ProhibitedContent []ContentRule `yaml:"prohibited_content"`
}

var (
	defaultOnce sync.Once
	defaultSet  *Rules
)

// DefaultRules returns the embedded policy.
func DefaultRules() *Rules {
	defaultOnce.Do(func() {
		r, err := ParseRules(defaultRules)
		if err != nil {
			panic(fmt.Sprintf("safety: embedded rules: %v", err))
		}
		defaultSet = r
	})
	return defaultSet
}

// ParseRules decodes a YAML policy and lower-cases every entry except self markers.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse safety rules: %w", err)
	}
	for _, list := range [][]string{r.BlockedTLDs, r.BlockedHosts, r.BlockedNames, r.LocalSuffixes} {
		for i, s := range list {
			list[i] = strings.ToLower(strings.TrimSpace(s))
		}
	}
	for i := range r.ProhibitedContent {
		for j, kw := range r.ProhibitedContent[i].Keywords {
			r.ProhibitedContent[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	return &r, nil
}

// Config holds the hosts that serve this application.
type Config struct {
	SelfHosts []string
}

// NewConfig reads APP_HOSTS, a comma-separated host list.
func NewConfig() Config {
	var hosts []string
	for _, h := range strings.Split(os.Getenv("APP_HOSTS"), ",") {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return Config{SelfHosts: hosts}
}

// Result is the outcome of a gate. Reason is user-facing.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Result { return Result{Allowed: true} }

func deny(format string, args ...any) Result {
	return Result{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Gate applies Rules to targets and fetched pages.
type Gate struct {
	rules     *Rules
	selfHosts []string
}

// NewGate creates a Gate. Nil rules select the embedded policy.
func NewGate(rules *Rules, cfg Config) *Gate {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Gate{rules: rules, selfHosts: cfg.SelfHosts}
}

// IsBlockedCloneTarget reports whether target may not be cloned. It performs
// no network I/O.
func (g *Gate) IsBlockedCloneTarget(target string) bool {
	return !g.CheckTarget(target).Allowed
}

// CheckTarget is IsBlockedCloneTarget with a reason. target is a URL or a
// site name.
func (g *Gate) CheckTarget(target string) Result {
	target = strings.TrimSpace(target)
	if target == "" {
		return deny("A target URL or site name is required")
	}

	lower := strings.ToLower(target)
	for _, name := range g.rules.BlockedNames {
		if lower == name {
			return deny("Cloning %q is not permitted", target)
		}
	}

	host := hostOf(target)
	if host == "" {
		return allow()
	}
	return g.checkHost(host)
}

func (g *Gate) checkHost(host string) Result {
	for _, self := range g.selfHosts {
		if matchesHost(host, self) {
			return deny("This application cannot clone itself")
		}
	}

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || ip.IsMulticast() {
			return deny("Local and private network addresses cannot be cloned")
		}
		return allow()
	}
	for _, suffix := range g.rules.LocalSuffixes {
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, suffix) {
			return deny("Local and private network addresses cannot be cloned")
		}
	}

	for _, tld := range g.rules.BlockedTLDs {
		if strings.HasSuffix(host, tld) {
			return deny("Sites under %s cannot be cloned", tld)
		}
	}
	for _, blocked := range g.rules.BlockedHosts {
		if matchesHost(host, blocked) {
			return deny("Cloning %s is not permitted: financial and identity providers are blocked", blocked)
		}
	}
	return allow()
}

// CheckScrapedContent inspects fetched HTML before any deeper crawling.
// Subpages are held to looser content thresholds than the homepage.
func (g *Gate) CheckScrapedContent(pageURL, name, html string, isSubpage bool) Result {
	if r := g.CheckTarget(pageURL); !r.Allowed {
		return r
	}
	if name != "" {
		if r := g.CheckTarget(name); !r.Allowed {
			return r
		}
	}

	for _, marker := range g.rules.SelfMarkers {
		if strings.Contains(html, marker) {
			return deny("This page is served by this application and cannot be cloned")
		}
	}

	text := strings.ToLower(visibleText(html))
	for _, rule := range g.rules.ProhibitedContent {
		threshold := rule.HomepageThreshold
		if isSubpage {
			threshold = rule.SubpageThreshold
		}
		if threshold <= 0 {
			continue
		}
		hits := 0
		for _, kw := range rule.Keywords {
			hits += strings.Count(text, kw)
		}
		if hits >= threshold {
			return deny("Target site content is not eligible for cloning (%s)", rule.Category)
		}
	}
	return allow()
}

// hostOf extracts a lower-cased host from a URL or bare domain. Names with
// spaces or without a dot are not hosts.
func hostOf(target string) string {
	raw := target
	if !strings.Contains(raw, "://") {
		if strings.ContainsAny(raw, " \t") {
			return ""
		}
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host != "localhost" && !strings.Contains(host, ".") && !strings.Contains(host, ":") {
		return ""
	}
	return host
}

// matchesHost reports whether host is pattern or a subdomain of it.
func matchesHost(host, pattern string) bool {
	pattern = strings.TrimPrefix(pattern, "www.")
	host = strings.TrimPrefix(host, "www.")
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

func visibleText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, noscript, template").Remove()
	return doc.Text()
}
