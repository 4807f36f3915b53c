package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/sykell/site-replicator/internal/llm"
	"github.com/sykell/site-replicator/internal/model"
)

// GeneratedFile is one file produced for a build step.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// GenerateFileContents asks the LLM for the complete contents of the files
// of step. The reply is free text; a reply that holds no parseable JSON
// array yields no files and no error. Only a failed call is an error.
func (p *Pipeline) GenerateFileContents(ctx context.Context, plan *model.BuildPlan, step model.BuildStep, research *model.ResearchResult, branding model.Branding, stripe model.StripeConfig, apiKey string) ([]GeneratedFile, error) {
	data := filesPromptData{
		Plan:       plan,
		Step:       step,
		TotalSteps: len(plan.BuildSteps),
		Branding:   brandingPtr(branding),
		Stripe:     stripePtr(stripe),
	}
	if research != nil {
		data.Products = head(research.Products, promptProducts)
		data.Listings = head(research.Listings, promptListings)
		data.MenuItems = head(research.MenuItems, promptMenuItems)
		data.Jobs = head(research.Jobs, promptJobs)
		data.Articles = head(research.Articles, promptArticles)
		images := append(append([]model.ImageAsset(nil), research.SiteImages...), research.CatalogImages...)
		data.Images = head(images, promptImages)
	}
	prompt, err := render(filesTmpl, data)
	if err != nil {
		return nil, err
	}

	resp, err := p.llm.Invoke(ctx, llm.Request{
		SystemTag: "replicate-build-step",
		APIKey:    apiKey,
		Messages: []llm.Message{
			{Role: "system", Content: filesSystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: p.cfg.FilesMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate files for step %d: %w", step.Step, err)
	}
	text, ok := resp.Text()
	if !ok {
		return []GeneratedFile{}, nil
	}

	var files []GeneratedFile
	for _, f := range llm.ExtractJSONArray[GeneratedFile](text) {
		if clean, ok := workspacePath(f.Path); ok {
			f.Path = clean
			files = append(files, f)
		}
	}
	if files == nil {
		files = []GeneratedFile{}
	}
	return files, nil
}

// workspacePath cleans a model-supplied path to a relative path inside the
// workspace.
func workspacePath(p string) (string, bool) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", false
	}
	clean := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", false
	}
	return clean, true
}
