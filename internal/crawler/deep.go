package crawler

import (
	"context"
	"net/url"
	"sort"
)

// Page is a fetched subpage.
type Page struct {
	URL  string
	HTML string
}

// DeepCrawlSite fetches up to maxPages same-site subpages linked from the
// homepage, content pages (menu, product, pricing, about, contact and the
// like) first. It keeps its own visited set, separate from catalog discovery.
func (c *Crawler) DeepCrawlSite(ctx context.Context, baseURL, homepage string, maxPages int) []Page {
	if maxPages <= 0 {
		maxPages = c.cfg.MaxDeepPages
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil
	}

	visited := map[string]bool{pathKey(base): true}
	var candidates []*url.URL
	for _, link := range sameOriginLinks(homepage, base) {
		if c.vocab.isExcluded(link.Path) || visited[pathKey(link)] {
			continue
		}
		visited[pathKey(link)] = true
		candidates = append(candidates, link)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return c.vocab.deepScore(candidates[i].Path) > c.vocab.deepScore(candidates[j].Path)
	})

	var pages []Page
	for _, link := range candidates {
		if len(pages) >= maxPages {
			break
		}
		html, ok := c.fetch.FetchHTML(ctx, link.String())
		if err := c.pause(ctx); err != nil {
			break
		}
		if !ok {
			c.log.Debug("subpage skipped", "url", link.String())
			continue
		}
		pages = append(pages, Page{URL: link.String(), HTML: html})
	}
	return pages
}
