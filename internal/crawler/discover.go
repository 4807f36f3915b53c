package crawler

import (
	"context"
	"net/url"
	"regexp"
	"sort"
)

var paginationRe = regexp.MustCompile(`(?:[?&]page=\d+|/page/\d+)`)

// DiscoverProductPages finds catalog pages reachable from the homepage.
//
// Category links on the homepage are kept when their path matches the catalog
// vocabulary, ranked by collection weight, and up to MaxCategoryFetches of
// them are fetched to collect further catalog links and pagination links.
// Categories are deduplicated by path and pagination by full URL through one
// visited set. At most maxPages URLs are returned.
func (c *Crawler) DiscoverProductPages(ctx context.Context, baseURL, homepage string, maxPages int) []string {
	if maxPages <= 0 {
		maxPages = c.cfg.MaxDiscoveredPages
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil
	}

	visited := map[string]bool{pathKey(base): true}
	var categories []*url.URL
	for _, link := range sameOriginLinks(homepage, base) {
		if !c.vocab.isCatalog(link.Path) || visited[pathKey(link)] {
			continue
		}
		visited[pathKey(link)] = true
		categories = append(categories, link)
	}

	sort.SliceStable(categories, func(i, j int) bool {
		return c.vocab.collectionScore(categories[i].Path) > c.vocab.collectionScore(categories[j].Path)
	})

	pages := make([]string, 0, len(categories))
	for _, cat := range categories {
		pages = append(pages, cat.String())
	}

	for i, cat := range categories {
		if i >= c.cfg.MaxCategoryFetches || len(pages) >= maxPages {
			break
		}
		page, ok := c.fetch.FetchHTML(ctx, cat.String())
		if err := c.pause(ctx); err != nil {
			break
		}
		if !ok {
			c.log.Debug("category page skipped", "url", cat.String())
			continue
		}
		for _, link := range sameOriginLinks(page, cat) {
			var key string
			switch {
			case paginationRe.MatchString(link.String()):
				key = urlKey(link)
			case c.vocab.isCatalog(link.Path):
				key = pathKey(link)
			default:
				continue
			}
			if visited[key] {
				continue
			}
			visited[key] = true
			pages = append(pages, link.String())
		}
	}

	if len(pages) > maxPages {
		pages = pages[:maxPages]
	}
	return pages
}
