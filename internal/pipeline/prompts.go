package pipeline

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/sykell/site-replicator/internal/extract"
	"github.com/sykell/site-replicator/internal/model"
)

const (
	researchSystemPrompt = "You are a senior product engineer who reverse-engineers websites into precise, buildable specifications. " +
		"Base every statement on the supplied page content; do not invent features the site does not have."
	planSystemPrompt = "You are a staff engineer who turns a website analysis into an ordered, executable build plan for a Next.js project. " +
		"Steps must be small, each naming the exact files it writes and the shell commands it runs."
	filesSystemPrompt = "You are an expert full-stack engineer writing production code for one step of a website clone. " +
		"You reply with a JSON array of files and nothing else."
)

// Limits on how much catalog data is rendered into prompts.
const (
	researchProducts = 60
	researchImages   = 80
	researchPrices   = 40
	subpageText      = 1500
	homepageText     = 8000
	promptProducts   = 120
	promptListings   = 60
	promptMenuItems  = 150
	promptJobs       = 60
	promptArticles   = 40
	promptImages     = 150
)

var (
	//go:embed templates/research.tmpl
	researchTmplText string
	//go:embed templates/plan.tmpl
	planTmplText string
	//go:embed templates/files.tmpl
	filesTmplText string

	promptFuncs = template.FuncMap{
		"join": strings.Join,
		"json": func(v any) string {
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return "{}"
			}
			return string(data)
		},
	}

	researchTmpl = template.Must(template.New("research").Funcs(promptFuncs).Parse(researchTmplText))
	planTmpl     = template.Must(template.New("plan").Funcs(promptFuncs).Parse(planTmplText))
	filesTmpl    = template.Must(template.New("files").Funcs(promptFuncs).Parse(filesTmplText))
)

type researchPromptData struct {
	TargetURL         string
	TargetName        string
	TargetDescription string
	SiteType          model.SiteType
	Homepage          extract.PageSummary
	Subpages          []extract.PageSummary
	Hints             extract.StructuralHints
	Catalog           *model.CatalogResult
	Products          []model.ScrapedProduct
	PriceSignals      []extract.PriceSignal
	Images            []model.ImageAsset
}

type planPromptData struct {
	SiteName       string
	TargetURL      string
	Summary        string
	SiteType       string
	Priority       string
	Features       []string
	UIPatterns     []string
	Pages          []model.PageSpec
	DataModels     []model.DataModel
	APIEndpoints   []model.APIEndpoint
	TechStack      model.TechStack
	CatalogSummary string
	ImageCount     int
	Branding       *model.Branding
	Stripe         *model.StripeConfig
}

type filesPromptData struct {
	Plan       *model.BuildPlan
	Step       model.BuildStep
	TotalSteps int
	Products   []model.ScrapedProduct
	Listings   []model.ScrapedListing
	MenuItems  []model.ScrapedMenuItem
	Jobs       []model.ScrapedJob
	Articles   []model.ScrapedArticle
	Images     []model.ImageAsset
	Branding   *model.Branding
	Stripe     *model.StripeConfig
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// head returns at most n leading elements of s.
func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// catalogSummary renders per-site-type entity counts for the plan prompt.
func catalogSummary(r *model.ResearchResult) string {
	var parts []string
	for _, c := range []struct {
		label string
		n     int
	}{
		{"products", len(r.Products)},
		{"real-estate listings", len(r.Listings)},
		{"menu items", len(r.MenuItems)},
		{"job postings", len(r.Jobs)},
		{"articles", len(r.Articles)},
		{"categories", len(r.Categories)},
	} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.label))
		}
	}
	if len(parts) == 0 {
		return "No structured catalog was extracted."
	}
	return fmt.Sprintf("Extracted %s (site type %s). The clone must ship with this data as seed content.", strings.Join(parts, ", "), r.Crawl.SiteType)
}

// brandingPtr and stripePtr drop empty settings so templates can test them.
func brandingPtr(b model.Branding) *model.Branding {
	if b.IsZero() {
		return nil
	}
	return &b
}

func stripePtr(s model.StripeConfig) *model.StripeConfig {
	if s.IsZero() {
		return nil
	}
	return &s
}
