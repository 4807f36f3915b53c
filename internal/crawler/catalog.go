package crawler

import (
	"context"
	"net/url"
	"strings"

	"github.com/sykell/site-replicator/internal/extract"
	"github.com/sykell/site-replicator/internal/model"
)

// catalogSteps is the number of progress steps a catalog scrape reports.
const catalogSteps = 7

// genericSegments are path segments too generic to name a category.
var genericSegments = map[string]bool{
	"collections": true, "collection": true, "category": true, "categories": true,
	"c": true, "shop": true, "products": true, "product": true, "store": true, "catalog": true,
}

// Options bounds a catalog scrape.
type Options struct {
	MaxPages    int
	MaxProducts int
	MaxImages   int
	// OnProgress is called at the start of every step, 1 through 7.
	OnProgress func(step, total int, message string)
}

// catalog accumulates entities with name-based deduplication. Two distinct
// entities with the same lower-cased name collapse into the first one seen.
type catalog struct {
	products  []model.ScrapedProduct
	listings  []model.ScrapedListing
	menuItems []model.ScrapedMenuItem
	jobs      []model.ScrapedJob
	articles  []model.ScrapedArticle
	seen      map[string]bool
}

func newCatalog() *catalog {
	return &catalog{seen: make(map[string]bool)}
}

func (c *catalog) claim(kind, name string) bool {
	key := kind + ":" + strings.ToLower(strings.TrimSpace(name))
	if strings.TrimSpace(name) == "" || c.seen[key] {
		return false
	}
	c.seen[key] = true
	return true
}

// addProducts merges products, filling a missing category from category,
// and returns how many were new.
func (c *catalog) addProducts(products []model.ScrapedProduct, category string) int {
	added := 0
	for _, p := range products {
		if !c.claim("product", p.Name) {
			continue
		}
		if p.Category == "" {
			p.Category = category
		}
		c.products = append(c.products, p)
		added++
	}
	return added
}

// DedupProducts merges product lists in order, keeping the first product of
// each lower-cased name and dropping unnamed ones.
func DedupProducts(lists ...[]model.ScrapedProduct) []model.ScrapedProduct {
	c := newCatalog()
	for _, products := range lists {
		c.addProducts(products, "")
	}
	return c.products
}

func (c *catalog) addStructured(data extract.StructuredData) {
	for _, l := range data.Listings {
		if c.claim("listing", l.Title) {
			c.listings = append(c.listings, l)
		}
	}
	for _, m := range data.MenuItems {
		if c.claim("menu", m.Name) {
			c.menuItems = append(c.menuItems, m)
		}
	}
	for _, j := range data.Jobs {
		if c.claim("job", j.Title) {
			c.jobs = append(c.jobs, j)
		}
	}
	for _, a := range data.Articles {
		if c.claim("article", a.Title) {
			c.articles = append(c.articles, a)
		}
	}
}

// ScrapeProductCatalog builds the catalog of a site from its homepage:
//
//  1. JSON-LD entities on the homepage
//  2. product cards on the homepage
//  3. catalog page discovery
//  4. JSON-LD and cards on every discovered page, until MaxProducts
//  5. image and description enrichment for products without images
//  6. image download, at most 3 per product and MaxImages in total
//  7. product image rewrite to local paths
//
// Page and image failures are skipped. Output is truncated to MaxProducts;
// TotalProductsFound keeps the count before truncation.
func (c *Crawler) ScrapeProductCatalog(ctx context.Context, targetURL, homepage string, opts Options) *model.CatalogResult {
	progress := func(step int, message string) {
		c.log.Debug("catalog step", "step", step, "message", message)
		if opts.OnProgress != nil {
			opts.OnProgress(step, catalogSteps, message)
		}
	}

	cat := newCatalog()
	// Products whose URL is a page they were listed on have no detail page.
	listingPages := map[string]bool{targetURL: true}
	result := &model.CatalogResult{}

	progress(1, "Extracting structured data from homepage")
	homeData := extract.ExtractStructuredData(homepage, targetURL)
	cat.addProducts(homeData.Products, "")
	cat.addStructured(homeData)

	progress(2, "Extracting product cards from homepage")
	cat.addProducts(c.extract.Products(homepage, targetURL), "")

	progress(3, "Discovering catalog pages")
	pages := c.DiscoverProductPages(ctx, targetURL, homepage, opts.MaxPages)

	progress(4, "Scraping catalog pages")
	for _, pageURL := range pages {
		if opts.MaxProducts > 0 && len(cat.products) >= opts.MaxProducts {
			break
		}
		if ctx.Err() != nil {
			break
		}
		page, ok := c.fetch.FetchHTML(ctx, pageURL)
		if !ok {
			_ = c.pause(ctx)
			continue
		}
		result.PagesScraped++

		data := extract.ExtractStructuredData(page, pageURL)
		cards := c.extract.Products(page, pageURL)
		category := inferCategory(pageURL)
		cat.addProducts(data.Products, category)
		cat.addProducts(cards, category)
		cat.addStructured(data)
		if len(data.Products)+len(cards) > 0 {
			listingPages[pageURL] = true
		}

		result.Categories = append(result.Categories, model.ScrapedCategory{
			Name:         categoryName(category, pageURL),
			URL:          pageURL,
			ProductCount: len(data.Products) + len(cards),
		})
		_ = c.pause(ctx)
	}

	result.TotalProductsFound = len(cat.products)
	products := cat.products
	if opts.MaxProducts > 0 && len(products) > opts.MaxProducts {
		products = products[:opts.MaxProducts]
	}

	progress(5, "Enriching products without images")
	result.PagesScraped += c.enrich(ctx, products, listingPages)

	progress(6, "Downloading product images")
	downloaded, localPaths := c.downloadProductImages(ctx, products, opts.MaxImages)
	result.DownloadedImages = downloaded

	progress(7, "Rewriting product image paths")
	distinct := make(map[string]bool)
	for i := range products {
		for j, src := range products[i].Images {
			distinct[src] = true
			if local, ok := localPaths[src]; ok {
				products[i].Images[j] = local
			}
		}
	}
	result.TotalImagesFound = len(distinct)

	result.Products = products
	result.Listings = cat.listings
	result.MenuItems = cat.menuItems
	result.Jobs = cat.jobs
	result.Articles = cat.articles
	result.SiteType = c.extract.DetectSiteType(map[model.SiteType]int{
		model.SiteRetail:     result.TotalProductsFound,
		model.SiteRealEstate: len(result.Listings),
		model.SiteRestaurant: len(result.MenuItems),
		model.SiteJobs:       len(result.Jobs),
		model.SiteArticles:   len(result.Articles),
	}, extract.Summarize(homepage, targetURL, 0).Text)

	c.log.Info("catalog scraped",
		"url", targetURL,
		"site_type", result.SiteType,
		"products", len(result.Products),
		"total_found", result.TotalProductsFound,
		"pages", result.PagesScraped,
		"images", len(result.DownloadedImages),
	)
	return result
}

// enrich re-fetches the detail page of products that have no images and
// fills images and a missing description from it. Products that only point
// back at a listing page are skipped. It returns the number of pages fetched.
func (c *Crawler) enrich(ctx context.Context, products []model.ScrapedProduct, listingPages map[string]bool) int {
	attempts, pagesFetched := 0, 0
	for i := range products {
		p := &products[i]
		if len(p.Images) > 0 || p.URL == "" || listingPages[p.URL] {
			continue
		}
		if attempts >= c.cfg.MaxEnrichment || ctx.Err() != nil {
			break
		}
		attempts++

		page, ok := c.fetch.FetchHTML(ctx, p.URL)
		if !ok {
			_ = c.pause(ctx)
			continue
		}
		pagesFetched++

		for _, img := range extract.ExtractImages(page, p.URL) {
			if len(p.Images) >= c.cfg.MaxImagesPerCard {
				break
			}
			if img.Context == "logo" || img.Context == "icon" {
				continue
			}
			p.Images = append(p.Images, img.Src)
		}
		if p.Description == "" {
			p.Description = extract.MetaDescription(page)
		}
		_ = c.pause(ctx)
	}
	return pagesFetched
}

// downloadProductImages downloads at most MaxImagesPerProduct images per
// product and limit in total. It returns the assets and a map from original
// URL to local path.
func (c *Crawler) downloadProductImages(ctx context.Context, products []model.ScrapedProduct, limit int) ([]model.ImageAsset, map[string]string) {
	var assets []model.ImageAsset
	localPaths := make(map[string]string)
	attempted := make(map[string]bool)

	for _, p := range products {
		perProduct := 0
		for _, raw := range p.Images {
			if len(assets) >= limit || ctx.Err() != nil {
				return assets, localPaths
			}
			if perProduct >= c.cfg.MaxImagesPerProduct {
				break
			}
			src, ok := extract.ResolveURL(raw, baseOf(p.URL))
			if !ok {
				continue
			}
			if local, done := localPaths[src]; done {
				localPaths[raw] = local
				perProduct++
				continue
			}
			if attempted[src] {
				continue
			}
			attempted[src] = true

			asset, ok := c.downloadImage(ctx, src, p.Name, ProductImageContext)
			if !ok {
				continue
			}
			assets = append(assets, asset)
			localPaths[src] = asset.LocalPath
			localPaths[raw] = asset.LocalPath
			perProduct++
		}
	}
	return assets, localPaths
}

// inferCategory names a category after the first meaningful path segment of
// a page URL: /collections/mugs/ gives "mugs", /men/shoes gives "men".
func inferCategory(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	for _, seg := range segments(u.Path) {
		if genericSegments[seg] {
			continue
		}
		if decoded, err := url.PathUnescape(seg); err == nil {
			seg = decoded
		}
		return strings.ReplaceAll(seg, "-", " ")
	}
	return ""
}

func categoryName(category, pageURL string) string {
	if category != "" {
		return category
	}
	return pageURL
}

func baseOf(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}
