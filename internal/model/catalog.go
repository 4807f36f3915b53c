package model

// SiteType is the detected domain category of a target site.
type SiteType string

const (
	SiteGeneric    SiteType = "generic"
	SiteRetail     SiteType = "retail"
	SiteRealEstate SiteType = "real_estate"
	SiteRestaurant SiteType = "restaurant"
	SiteJobs       SiteType = "jobs"
	SiteArticles   SiteType = "articles"
)

// ScrapedProduct is a retail catalog entry.
type ScrapedProduct struct {
	Name        string   `json:"name"`
	Price       string   `json:"price,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Description string   `json:"description,omitempty"`
	Images      []string `json:"images"`
	URL         string   `json:"url,omitempty"`
	Category    string   `json:"category,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	SKU         string   `json:"sku,omitempty"`
	InStock     bool     `json:"inStock"`
	Variants    []string `json:"variants,omitempty"`
}

// ScrapedListing is a real-estate listing.
type ScrapedListing struct {
	Title        string   `json:"title"`
	Price        string   `json:"price,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	Address      string   `json:"address,omitempty"`
	Bedrooms     string   `json:"bedrooms,omitempty"`
	Bathrooms    string   `json:"bathrooms,omitempty"`
	Sqft         string   `json:"sqft,omitempty"`
	PropertyType string   `json:"propertyType,omitempty"`
	Description  string   `json:"description,omitempty"`
	Images       []string `json:"images"`
	URL          string   `json:"url,omitempty"`
}

// ScrapedMenuItem is a restaurant menu entry.
type ScrapedMenuItem struct {
	Name        string   `json:"name"`
	Price       string   `json:"price,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	DietaryTags []string `json:"dietaryTags,omitempty"`
	Images      []string `json:"images"`
	URL         string   `json:"url,omitempty"`
}

// ScrapedJob is a job posting.
type ScrapedJob struct {
	Title          string `json:"title"`
	Company        string `json:"company,omitempty"`
	Location       string `json:"location,omitempty"`
	EmploymentType string `json:"employmentType,omitempty"`
	Salary         string `json:"salary,omitempty"`
	Description    string `json:"description,omitempty"`
	DatePosted     string `json:"datePosted,omitempty"`
	URL            string `json:"url,omitempty"`
}

// ScrapedArticle is a blog post or news article.
type ScrapedArticle struct {
	Title       string   `json:"title"`
	Author      string   `json:"author,omitempty"`
	PublishedAt string   `json:"publishedAt,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Images      []string `json:"images"`
	URL         string   `json:"url,omitempty"`
}

// ScrapedCategory records a listing page and how many entities it yielded.
type ScrapedCategory struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	ProductCount int    `json:"productCount"`
}

// ImageRef is an image reference found in markup, before download.
type ImageRef struct {
	Src     string `json:"src"`
	Alt     string `json:"alt,omitempty"`
	Context string `json:"context"`
}

// ImageAsset is a downloaded image. Data is never persisted; the build
// re-fetches from OriginalURL.
type ImageAsset struct {
	OriginalURL string `json:"originalUrl"`
	LocalPath   string `json:"localPath"`
	EntityName  string `json:"entityName,omitempty"`
	Context     string `json:"context"`
	Alt         string `json:"alt,omitempty"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Data        []byte `json:"-"`
}

// CatalogResult is the output of a catalog scrape.
type CatalogResult struct {
	SiteType           SiteType          `json:"siteType"`
	Products           []ScrapedProduct  `json:"products"`
	Listings           []ScrapedListing  `json:"listings"`
	MenuItems          []ScrapedMenuItem `json:"menuItems"`
	Jobs               []ScrapedJob      `json:"jobs"`
	Articles           []ScrapedArticle  `json:"articles"`
	Categories         []ScrapedCategory `json:"categories"`
	TotalProductsFound int               `json:"totalProductsFound"`
	TotalImagesFound   int               `json:"totalImagesFound"`
	PagesScraped       int               `json:"pagesScraped"`
	DownloadedImages   []ImageAsset      `json:"downloadedImages"`
}
