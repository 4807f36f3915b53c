// Package crawler discovers catalog and content pages on a target site and
// scrapes them into a CatalogResult.
package crawler

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sykell/site-replicator/internal/extract"
)

// Fetcher retrieves pages and binary assets. Failures are reported as
// ok=false or an error and are never fatal to a crawl.
type Fetcher interface {
	FetchHTML(ctx context.Context, rawURL string) (string, bool)
	Download(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Config holds crawler configuration
type Config struct {
	Delay               time.Duration
	MaxDiscoveredPages  int
	MaxCategoryFetches  int
	MaxDeepPages        int
	MaxEnrichment       int
	MaxImagesPerProduct int
	MaxImagesPerCard    int
}

// DefaultConfig returns default crawler configuration
func DefaultConfig() *Config {
	return &Config{
		Delay:               300 * time.Millisecond,
		MaxDiscoveredPages:  150,
		MaxCategoryFetches:  30,
		MaxDeepPages:        20,
		MaxEnrichment:       50,
		MaxImagesPerProduct: 3,
		MaxImagesPerCard:    5,
	}
}

// NewConfig returns the default configuration with the courtesy delay taken
// from CRAWL_DELAY when set.
func NewConfig() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("CRAWL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Delay = d
		}
	}
	return cfg
}

// Crawler walks a single target site sequentially.
type Crawler struct {
	fetch   Fetcher
	extract *extract.Extractor
	vocab   *Vocabulary
	cfg     *Config
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithVocabulary replaces the embedded crawl vocabulary.
func WithVocabulary(v *Vocabulary) Option {
	return func(c *Crawler) { c.vocab = v }
}

// New creates a Crawler. Nil arguments select defaults.
func New(f Fetcher, ex *extract.Extractor, cfg *Config, log *slog.Logger, opts ...Option) *Crawler {
	if ex == nil {
		ex = extract.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Crawler{
		fetch:   f,
		extract: ex,
		vocab:   DefaultVocabulary(),
		cfg:     cfg,
		log:     log.With("component", "crawler"),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// pause applies the courtesy delay between sequential fetches.
func (c *Crawler) pause(ctx context.Context) error {
	return c.sleep(ctx, c.cfg.Delay)
}

// sameOriginLinks returns every same-site http(s) link in page, resolved
// against base, without fragments, in document order.
func sameOriginLinks(page string, base *url.URL) []*url.URL {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil
	}
	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		abs, ok := extract.ResolveURL(href, base)
		if !ok {
			return
		}
		u, err := url.Parse(abs)
		if err != nil || !extract.SameSite(u.Host, base.Host) {
			return
		}
		links = append(links, u)
	})
	return links
}

func pathKey(u *url.URL) string {
	p := strings.TrimSuffix(strings.ToLower(u.Path), "/")
	if p == "" {
		p = "/"
	}
	return "path:" + p
}

func urlKey(u *url.URL) string {
	return "url:" + u.String()
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
