// Package model holds the artifacts that flow between pipeline stages and
// are persisted as JSON on the project record.
package model

import "time"

// Feature is a capability observed on the target site.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    string `json:"priority" jsonschema:"enum=core,enum=important,enum=nice"`
	Complexity  string `json:"complexity" jsonschema:"enum=low,enum=medium,enum=high"`
}

// PageSpec is a page the clone needs.
type PageSpec struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

// ModelField is one field of a DataModel.
type ModelField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// DataModel is an entity the clone stores.
type DataModel struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Fields      []ModelField `json:"fields"`
}

// APIEndpoint is a route exposed by the clone.
type APIEndpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// TechStack names the technologies for the clone.
type TechStack struct {
	Frontend  string   `json:"frontend"`
	Backend   string   `json:"backend"`
	Database  string   `json:"database"`
	Styling   string   `json:"styling"`
	Libraries []string `json:"libraries"`
}

// DesignSystem captures visual identity signals.
type DesignSystem struct {
	Colors []string `json:"colors"`
	Fonts  []string `json:"fonts"`
	Style  string   `json:"style"`
}

// ComplexityEstimate is the model's sizing of the clone.
type ComplexityEstimate struct {
	Level          string `json:"level" jsonschema:"enum=low,enum=medium,enum=high"`
	EstimatedHours int    `json:"estimatedHours"`
	Rationale      string `json:"rationale"`
}

// ResearchAnalysis is the part of the research produced by the LLM. Its JSON
// schema is the strict response format of the research call.
type ResearchAnalysis struct {
	SiteName       string             `json:"siteName"`
	Summary        string             `json:"summary" validate:"required"`
	SiteType       string             `json:"siteType"`
	TargetAudience string             `json:"targetAudience"`
	Features       []Feature          `json:"features" validate:"dive"`
	UIPatterns     []string           `json:"uiPatterns"`
	Pages          []PageSpec         `json:"pages"`
	DataModels     []DataModel        `json:"dataModels"`
	APIEndpoints   []APIEndpoint      `json:"apiEndpoints"`
	TechStack      TechStack          `json:"techStack"`
	DesignSystem   DesignSystem       `json:"designSystem"`
	Complexity     ComplexityEstimate `json:"complexity"`
	MVPFeatures    []string           `json:"mvpFeatures"`
	FullFeatures   []string           `json:"fullFeatures"`
}

// CrawlMetadata is attached to the research after the LLM call.
type CrawlMetadata struct {
	PagesCrawled            int       `json:"pagesCrawled"`
	CatalogPagesScraped     int       `json:"catalogPagesScraped"`
	ImagesFound             int       `json:"imagesFound"`
	ImagesDownloaded        int       `json:"imagesDownloaded"`
	CatalogImagesDownloaded int       `json:"catalogImagesDownloaded"`
	SiteType                SiteType  `json:"siteType"`
	Frameworks              []string  `json:"frameworks,omitempty"`
	CatalogWarning          string    `json:"catalogWarning,omitempty"`
	CrawledAt               time.Time `json:"crawledAt"`
}

// ResearchResult is the persisted output of the research stage.
type ResearchResult struct {
	ResearchAnalysis

	Crawl         CrawlMetadata     `json:"crawl"`
	Products      []ScrapedProduct  `json:"products,omitempty"`
	Listings      []ScrapedListing  `json:"listings,omitempty"`
	MenuItems     []ScrapedMenuItem `json:"menuItems,omitempty"`
	Jobs          []ScrapedJob      `json:"jobs,omitempty"`
	Articles      []ScrapedArticle  `json:"articles,omitempty"`
	Categories    []ScrapedCategory `json:"categories,omitempty"`
	SiteImages    []ImageAsset      `json:"siteImages,omitempty"`
	CatalogImages []ImageAsset      `json:"catalogImages,omitempty"`
}

// PlannedFile is one entry of the plan's file structure.
type PlannedFile struct {
	Path        string `json:"path" validate:"required"`
	Description string `json:"description"`
	Priority    string `json:"priority" jsonschema:"enum=critical,enum=high,enum=medium,enum=low"`
}

// BuildStep is one ordered unit of the build.
type BuildStep struct {
	Step        int      `json:"step"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
	Commands    []string `json:"commands"`
}

// BuildPlan is the output of the planning stage.
type BuildPlan struct {
	ProjectName      string        `json:"projectName"`
	Summary          string        `json:"summary"`
	TechStack        TechStack     `json:"techStack"`
	FileStructure    []PlannedFile `json:"fileStructure" validate:"dive"`
	BuildSteps       []BuildStep   `json:"buildSteps" validate:"required,min=1,dive"`
	DataModels       []DataModel   `json:"dataModels"`
	APIRoutes        []APIEndpoint `json:"apiRoutes"`
	EstimatedFiles   int           `json:"estimatedFiles"`
	EstimatedMinutes int           `json:"estimatedMinutes"`
}

// LogStatus is the state reported by a build log entry.
type LogStatus string

const (
	LogPending LogStatus = "pending"
	LogRunning LogStatus = "running"
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
)

// BuildLogEntry is one append-only progress record. Order is array order.
type BuildLogEntry struct {
	Step      int       `json:"step"`
	Status    LogStatus `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Branding is the optional rebranding requested by the user.
type Branding struct {
	Name    string   `json:"name,omitempty"`
	Colors  []string `json:"colors,omitempty"`
	Logo    string   `json:"logo,omitempty"`
	Tagline string   `json:"tagline,omitempty"`
}

// IsZero reports whether no rebranding was requested.
func (b Branding) IsZero() bool {
	return b.Name == "" && len(b.Colors) == 0 && b.Logo == "" && b.Tagline == ""
}

// StripeConfig is the user's own payment configuration.
type StripeConfig struct {
	PublishableKey string            `json:"publishableKey,omitempty"`
	SecretKey      string            `json:"-"`
	PriceIDs       map[string]string `json:"priceIds,omitempty"`
}

// IsZero reports whether no payment wiring was requested.
func (s StripeConfig) IsZero() bool {
	return s.PublishableKey == "" && s.SecretKey == "" && len(s.PriceIDs) == 0
}
