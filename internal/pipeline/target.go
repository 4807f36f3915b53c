package pipeline

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sykell/site-replicator/internal/crawler"
)

const defaultSearchURL = "https://html.duckduckgo.com/html/"

// Resolver turns a project target (a URL, a bare domain or a business
// name) into an absolute URL.
type Resolver struct {
	fetch     crawler.Fetcher
	searchURL string
}

// NewResolver creates a Resolver that looks names up through the
// DuckDuckGo HTML endpoint at searchURL ("" selects the public one).
func NewResolver(f crawler.Fetcher, searchURL string) *Resolver {
	if searchURL == "" {
		searchURL = defaultSearchURL
	}
	return &Resolver{fetch: f, searchURL: searchURL}
}

// Resolve returns an absolute http(s) URL for target. It never fails: a
// name that cannot be looked up becomes https://{slug}.com.
func (r *Resolver) Resolve(ctx context.Context, target, name string) string {
	target = strings.TrimSpace(target)
	if u, ok := absoluteURL(target); ok {
		return u
	}
	if target != "" && !strings.ContainsAny(target, " \t") && strings.Contains(target, ".") {
		if u, ok := absoluteURL("https://" + target); ok {
			return u
		}
	}

	query := strings.TrimSpace(name)
	if query == "" {
		query = target
	}
	if found, ok := r.search(ctx, query); ok {
		return found
	}
	return "https://" + strings.ReplaceAll(crawler.Slugify(query), "-", "") + ".com"
}

func (r *Resolver) search(ctx context.Context, query string) (string, bool) {
	if r.fetch == nil || query == "" {
		return "", false
	}
	page, ok := r.fetch.FetchHTML(ctx, r.searchURL+"?q="+url.QueryEscape(query+" official site"))
	if !ok {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", false
	}

	var found string
	doc.Find("a.result__a, a.result__url").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := a.AttrOr("href", "")
		// Result links go through a redirect carrying the target in uddg.
		if strings.Contains(href, "uddg=") {
			if u, err := url.Parse(href); err == nil {
				href = u.Query().Get("uddg")
			}
		}
		if u, ok := absoluteURL(href); ok {
			found = u
			return false
		}
		return true
	})
	return found, found != ""
}

func absoluteURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return u.String(), true
}
