package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sykell/site-replicator/internal/crawler"
	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/extract"
	"github.com/sykell/site-replicator/internal/llm"
	"github.com/sykell/site-replicator/internal/model"
	"github.com/sykell/site-replicator/internal/service"
)

// ResearchTarget crawls the project's target, asks the LLM for an analysis
// and stores the combined ResearchResult. A homepage that cannot be fetched,
// a safety gate rejection or an unusable LLM response fails the stage.
func (p *Pipeline) ResearchTarget(ctx context.Context, projectID string, userID uint) (*model.ResearchResult, error) {
	project, err := service.GetProject(p.db, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	log := p.stageLogger(StageResearch, project)

	if err := p.transition(project, db.StatusResearching, "Resolving target"); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	p.appendLog(log, project, 0, model.LogRunning, "Research started")

	target := p.resolver.Resolve(ctx, project.TargetURL, project.TargetName)
	if target != project.TargetURL {
		project.TargetURL = target
		if err := service.UpdateProject(p.db, project, "target_url"); err != nil {
			return nil, p.fail(log, project, 0, fmt.Errorf("store resolved target: %w", err))
		}
		log.Info("target resolved", "target", target)
	}
	if res := p.gate.CheckTarget(target); !res.Allowed {
		return nil, p.fail(log, project, 0, fmt.Errorf("%w: %s", ErrBlockedTarget, res.Reason))
	}

	p.progress(log, project, "Fetching homepage")
	homepage, ok := p.fetch.FetchHTML(ctx, target)
	if !ok {
		return nil, p.fail(log, project, 0, fmt.Errorf("failed to fetch homepage %s", target))
	}
	if res := p.gate.CheckScrapedContent(target, project.TargetName, homepage, false); !res.Allowed {
		return nil, p.fail(log, project, 0, fmt.Errorf("%w: %s", ErrContentRejected, res.Reason))
	}

	p.progress(log, project, "Crawling subpages")
	var subpages []crawler.Page
	for _, page := range p.crawler.DeepCrawlSite(ctx, target, homepage, p.cfg.DeepCrawlPages) {
		if res := p.gate.CheckScrapedContent(page.URL, "", page.HTML, true); !res.Allowed {
			log.Warn("subpage rejected by safety gate", "url", page.URL, "reason", res.Reason)
			continue
		}
		subpages = append(subpages, page)
	}

	catalog, warning := p.scrapeCatalog(ctx, log, project, target, homepage)

	p.progress(log, project, "Downloading site images")
	refs := p.extractor.Images(homepage, target)
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		seen[ref.Src] = true
	}
	for _, page := range subpages {
		for _, ref := range p.extractor.Images(page.HTML, page.URL) {
			if !seen[ref.Src] {
				seen[ref.Src] = true
				refs = append(refs, ref)
			}
		}
	}
	siteImages := p.crawler.DownloadSiteImages(ctx, crawler.PrioritizeImages(refs), p.cfg.SiteImages)

	hints := p.extractor.Hints(homepage)
	summaries := make([]extract.PageSummary, 0, len(subpages))
	for _, page := range subpages {
		summaries = append(summaries, extract.Summarize(page.HTML, page.URL, subpageText))
	}

	prompt, err := render(researchTmpl, researchPromptData{
		TargetURL:         target,
		TargetName:        project.TargetName,
		TargetDescription: project.TargetDescription,
		SiteType:          catalog.SiteType,
		Homepage:          extract.Summarize(homepage, target, homepageText),
		Subpages:          summaries,
		Hints:             hints,
		Catalog:           catalog,
		Products:          head(catalog.Products, researchProducts),
		PriceSignals:      extract.PriceSignals(homepage, researchPrices),
		Images:            head(siteImages, researchImages),
	})
	if err != nil {
		return nil, p.fail(log, project, 0, err)
	}

	p.progress(log, project, "Analyzing site")
	var analysis model.ResearchAnalysis
	if err := p.invokeJSON(ctx, llm.Request{
		SystemTag: "replicate-research",
		APIKey:    p.userAPIKey(userID),
		Messages: []llm.Message{
			{Role: "system", Content: researchSystemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: llm.StrictJSONFormat("research_result", &model.ResearchAnalysis{}),
		MaxTokens:      p.cfg.ResearchMaxTokens,
	}, &analysis); err != nil {
		return nil, p.fail(log, project, 0, err)
	}

	result := &model.ResearchResult{
		ResearchAnalysis: analysis,
		Crawl: model.CrawlMetadata{
			PagesCrawled:            1 + len(subpages),
			CatalogPagesScraped:     catalog.PagesScraped,
			ImagesFound:             len(refs) + catalog.TotalImagesFound,
			ImagesDownloaded:        len(siteImages),
			CatalogImagesDownloaded: len(catalog.DownloadedImages),
			SiteType:                catalog.SiteType,
			Frameworks:              hints.Frameworks,
			CatalogWarning:          warning,
			CrawledAt:               time.Now().UTC(),
		},
		Products:      catalog.Products,
		Listings:      catalog.Listings,
		MenuItems:     catalog.MenuItems,
		Jobs:          catalog.Jobs,
		Articles:      catalog.Articles,
		Categories:    catalog.Categories,
		SiteImages:    siteImages,
		CatalogImages: catalog.DownloadedImages,
	}

	project.ResearchData = result
	message := fmt.Sprintf("Research complete: %d pages, %d products, %d images", result.Crawl.PagesCrawled, len(result.Products), len(siteImages)+len(catalog.DownloadedImages))
	if err := p.transition(project, db.StatusResearchComplete, message, "research_data"); err != nil {
		return nil, p.fail(log, project, 0, fmt.Errorf("store research: %w", err))
	}
	p.appendLog(log, project, 0, model.LogSuccess, message)
	log.Info("research complete", "pages", result.Crawl.PagesCrawled, "site_type", result.Crawl.SiteType, "products", len(result.Products))
	return result, nil
}

// scrapeCatalog runs the catalog scraper with the research bounds. A panic
// from the scraper is downgraded to a warning and the catalog falls back to
// what the homepage alone yields.
func (p *Pipeline) scrapeCatalog(ctx context.Context, log *slog.Logger, project *db.ReplicateProject, target, homepage string) (result *model.CatalogResult, warning string) {
	defer func() {
		if r := recover(); r != nil {
			warning = fmt.Sprintf("catalog scrape failed: %v", r)
			log.Warn("catalog scrape failed, using homepage extraction", "error", r)
			result = p.homepageCatalog(target, homepage)
		}
	}()

	result = p.crawler.ScrapeProductCatalog(ctx, target, homepage, crawler.Options{
		MaxPages:    p.cfg.CatalogPages,
		MaxProducts: p.cfg.CatalogProducts,
		MaxImages:   p.cfg.CatalogImages,
		OnProgress: func(step, total int, message string) {
			p.progress(log, project, fmt.Sprintf("Catalog %d/%d: %s", step, total, message))
		},
	})
	if result == nil {
		warning = "catalog scrape returned no result"
		result = p.homepageCatalog(target, homepage)
	}
	return result, warning
}

// homepageCatalog extracts entities from the homepage only.
func (p *Pipeline) homepageCatalog(target, homepage string) *model.CatalogResult {
	data := extract.ExtractStructuredData(homepage, target)
	products := crawler.DedupProducts(data.Products, p.extractor.Products(homepage, target))
	counts := data.EntityCounts()
	counts[model.SiteRetail] = len(products)
	return &model.CatalogResult{
		SiteType:           p.extractor.DetectSiteType(counts, extract.Summarize(homepage, target, 0).Text),
		Products:           products,
		Listings:           data.Listings,
		MenuItems:          data.MenuItems,
		Jobs:               data.Jobs,
		Articles:           data.Articles,
		TotalProductsFound: len(products),
	}
}

// progress records a status message without changing the status.
func (p *Pipeline) progress(log *slog.Logger, project *db.ReplicateProject, message string) {
	project.StatusMessage = message
	if err := service.UpdateProject(p.db, project, "status_message"); err != nil {
		log.Warn("failed to update progress", "error", err)
	}
}

// invokeJSON calls the LLM and decodes and validates a JSON object reply
// into v.
func (p *Pipeline) invokeJSON(ctx context.Context, req llm.Request, v any) error {
	resp, err := p.llm.Invoke(ctx, req)
	if err != nil {
		return fmt.Errorf("llm call failed: %w", err)
	}
	text, ok := resp.Text()
	if !ok {
		return ErrEmptyLLMResponse
	}
	if err := llm.DecodeObject(text, v); err != nil {
		return fmt.Errorf("decode %s response: %w", req.SystemTag, err)
	}
	if err := p.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid %s response: %w", req.SystemTag, err)
	}
	return nil
}
