package pipeline

import (
	"context"
	"fmt"

	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/llm"
	"github.com/sykell/site-replicator/internal/model"
	"github.com/sykell/site-replicator/internal/service"
)

// PlanOptions overrides parts of the research when planning.
type PlanOptions struct {
	Features  []string         `json:"features"`
	TechStack *model.TechStack `json:"techStack"`
}

// GenerateBuildPlan asks the LLM for an ordered build plan based on the
// stored research. Without research it fails and leaves the status as is.
func (p *Pipeline) GenerateBuildPlan(ctx context.Context, projectID string, userID uint, opts PlanOptions) (*model.BuildPlan, error) {
	project, err := service.GetProject(p.db, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if err := Precheck(project, StagePlan); err != nil {
		return nil, err
	}
	log := p.stageLogger(StagePlan, project)
	research := project.ResearchData

	if err := p.transition(project, db.StatusPlanning, "Generating build plan"); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	p.appendLog(log, project, 0, model.LogRunning, "Planning started")

	techStack := research.TechStack
	if opts.TechStack != nil {
		techStack = *opts.TechStack
	}
	siteName := research.SiteName
	if siteName == "" {
		siteName = project.TargetName
	}

	prompt, err := render(planTmpl, planPromptData{
		SiteName:       siteName,
		TargetURL:      project.TargetURL,
		Summary:        research.Summary,
		SiteType:       string(research.Crawl.SiteType),
		Priority:       string(project.Priority),
		Features:       selectFeatures(research, project.Priority, opts.Features),
		UIPatterns:     research.UIPatterns,
		Pages:          research.Pages,
		DataModels:     research.DataModels,
		APIEndpoints:   research.APIEndpoints,
		TechStack:      techStack,
		CatalogSummary: catalogSummary(research),
		ImageCount:     len(research.SiteImages) + len(research.CatalogImages),
		Branding:       brandingPtr(project.Branding()),
		Stripe:         stripePtr(stripeConfig(project)),
	})
	if err != nil {
		return nil, p.fail(log, project, 0, err)
	}

	var plan model.BuildPlan
	if err := p.invokeJSON(ctx, llm.Request{
		SystemTag: "replicate-plan",
		APIKey:    p.userAPIKey(userID),
		Messages: []llm.Message{
			{Role: "system", Content: planSystemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: llm.StrictJSONFormat("build_plan", &model.BuildPlan{}),
		MaxTokens:      p.cfg.PlanMaxTokens,
	}, &plan); err != nil {
		return nil, p.fail(log, project, 0, err)
	}
	for i := range plan.BuildSteps {
		plan.BuildSteps[i].Step = i + 1
	}

	project.BuildPlan = &plan
	project.TotalSteps = len(plan.BuildSteps)
	project.CurrentStep = 0
	message := fmt.Sprintf("Build plan ready: %d steps, %d files", len(plan.BuildSteps), len(plan.FileStructure))
	if err := p.transition(project, db.StatusPlanComplete, message, "build_plan", "total_steps", "current_step"); err != nil {
		return nil, p.fail(log, project, 0, fmt.Errorf("store plan: %w", err))
	}
	p.appendLog(log, project, 0, model.LogSuccess, message)
	log.Info("plan complete", "steps", len(plan.BuildSteps))
	return &plan, nil
}

// selectFeatures returns override when given, otherwise the MVP or full
// feature list for priority. An empty list falls back to every analyzed
// feature.
func selectFeatures(research *model.ResearchResult, priority db.Priority, override []string) []string {
	if len(override) > 0 {
		return override
	}
	features := research.MVPFeatures
	if priority == db.PriorityFull {
		features = research.FullFeatures
	}
	if len(features) > 0 {
		return features
	}
	all := make([]string, 0, len(research.Features))
	for _, f := range research.Features {
		all = append(all, f.Name)
	}
	return all
}
