package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/llm"
	"github.com/sykell/site-replicator/internal/model"
	"github.com/sykell/site-replicator/internal/service"
)

const shopURL = "https://shop.example.com"

const shopHomepage = `<html><head><title>Example Shop</title>
<meta name="description" content="Handmade ceramics">
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Product","name":"Blue Mug","image":"https://shop.example.com/mug.jpg","offers":{"@type":"Offer","price":"12.00","priceCurrency":"USD","availability":"https://schema.org/InStock"}}</script>
</head><body><section class="hero"><img src="/hero.jpg" alt="Welcome"></section><p>Handmade ceramics from our studio.</p></body></html>`

const analysisJSON = `{"siteName":"Example Shop","summary":"A ceramics store","siteType":"retail",
"features":[{"name":"Catalog","description":"Browse products","category":"commerce","priority":"core","complexity":"medium"},
{"name":"Checkout","description":"Pay online","category":"commerce","priority":"important","complexity":"high"}],
"mvpFeatures":["Catalog"],"fullFeatures":["Catalog","Checkout"]}`

func (h *harness) createProject(t *testing.T, columns []string, mutate func(p *db.ReplicateProject)) *db.ReplicateProject {
	t.Helper()
	project := &db.ReplicateProject{UserID: h.userID, TargetURL: shopURL, TargetName: "Example Shop"}
	require.NoError(t, service.CreateProject(h.db, project))
	if mutate != nil {
		mutate(project)
		require.NoError(t, service.UpdateProject(h.db, project, columns...))
	}
	return project
}

func sampleResearch() *model.ResearchResult {
	return &model.ResearchResult{
		ResearchAnalysis: model.ResearchAnalysis{
			SiteName:     "Example Shop",
			Summary:      "A ceramics store",
			Features:     []model.Feature{{Name: "Catalog"}, {Name: "Checkout"}},
			MVPFeatures:  []string{"Catalog"},
			FullFeatures: []string{"Catalog", "Checkout"},
		},
		Crawl:    model.CrawlMetadata{SiteType: model.SiteRetail},
		Products: []model.ScrapedProduct{{Name: "Blue Mug", Price: "12.00", Currency: "USD", InStock: true, Images: []string{"/images/products/blue-mug-1a2b3c4d.jpg"}}},
		SiteImages: []model.ImageAsset{
			{OriginalURL: shopURL + "/hero.jpg", LocalPath: "/images/hero/welcome-aaaa1111.jpg", Context: "hero", ContentType: "image/jpeg", Size: 2000},
		},
		CatalogImages: []model.ImageAsset{
			{OriginalURL: shopURL + "/mug.jpg", LocalPath: "/images/products/blue-mug-1a2b3c4d.jpg", EntityName: "Blue Mug", Context: "products", ContentType: "image/jpeg", Size: 1000},
		},
	}
}

func samplePlan() *model.BuildPlan {
	return &model.BuildPlan{
		ProjectName: "example-shop-clone",
		Summary:     "Next.js storefront",
		FileStructure: []model.PlannedFile{
			{Path: "package.json", Priority: "critical"},
			{Path: "app/page.tsx", Priority: "high"},
		},
		BuildSteps: []model.BuildStep{
			{Step: 1, Title: "Scaffold", Files: []string{"package.json", "tsconfig.json"}, Commands: []string{"mkdir src", "npm run lint"}},
			{Step: 2, Title: "Home page", Files: []string{"app/page.tsx"}, Commands: []string{"npm run build"}},
		},
	}
}

func TestCreateProjectBlockedTargetMakesNoRequests(t *testing.T) {
	h := newHarness(t)

	for _, in := range []CreateInput{
		{TargetURL: "https://www.paypal.com/signin"},
		{TargetURL: "http://127.0.0.1:8080"},
		{TargetURL: "https://replicator.example.com/projects"},
		{TargetName: "PayPal"},
	} {
		_, err := h.p.CreateProject(context.Background(), h.userID, in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, ErrBlockedTarget)
		assert.True(t, IsPolicyError(err))
	}

	assert.Zero(t, h.fetch.calls())
	var count int64
	require.NoError(t, h.db.Model(&db.ReplicateProject{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateProjectStoresSettings(t *testing.T) {
	h := newHarness(t)

	project, err := h.p.CreateProject(context.Background(), h.userID, CreateInput{
		TargetURL: " https://shop.example.com ",
		Priority:  db.PriorityFull,
		Branding:  model.Branding{Name: "Clay Co", Colors: []string{"#112233"}},
		Stripe:    model.StripeConfig{PublishableKey: "pk_test_1", SecretKey: "sk_test_1", PriceIDs: map[string]string{"mug": "price_1"}},
	})
	require.NoError(t, err)
	assert.Zero(t, h.fetch.calls())

	got := h.reload(t, project.ID)
	assert.Equal(t, shopURL, got.TargetURL)
	assert.Equal(t, db.StatusResearching, got.Status)
	assert.Equal(t, db.PriorityFull, got.Priority)
	assert.Equal(t, "Clay Co", got.Branding().Name)
	stripe := stripeConfig(got)
	assert.Equal(t, "sk_test_1", stripe.SecretKey)
	assert.Equal(t, map[string]string{"mug": "price_1"}, stripe.PriceIDs)
}

func TestResearchTarget(t *testing.T) {
	h := newHarness(t)
	h.fetch.pages[shopURL] = shopHomepage
	h.fetch.images[shopURL+"/mug.jpg"] = jpeg(1000)
	h.fetch.images[shopURL+"/hero.jpg"] = jpeg(2000)
	h.llm.reply = func(req llm.Request) (*llm.Response, error) {
		return textResponse(t, analysisJSON), nil
	}
	project := h.createProject(t, nil, nil)

	result, err := h.p.ResearchTarget(context.Background(), project.ID, h.userID)
	require.NoError(t, err)

	require.Equal(t, 1, h.llm.count())
	req := h.llm.requests[0]
	assert.Equal(t, "replicate-research", req.SystemTag)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "research_result", req.ResponseFormat.JSONSchema.Name)
	assert.True(t, req.ResponseFormat.JSONSchema.Strict)
	assert.Contains(t, req.Messages[1].Content, "Blue Mug")
	assert.Contains(t, req.Messages[1].Content, "Handmade ceramics")

	assert.Equal(t, "A ceramics store", result.Summary)
	require.Len(t, result.Products, 1)
	assert.Equal(t, "Blue Mug", result.Products[0].Name)
	assert.Equal(t, "12.00", result.Products[0].Price)
	require.Len(t, result.Products[0].Images, 1)
	assert.True(t, strings.HasPrefix(result.Products[0].Images[0], "/images/products/blue-mug-"))
	assert.Len(t, result.SiteImages, 2)
	assert.Len(t, result.CatalogImages, 1)
	assert.Equal(t, 1, result.Crawl.PagesCrawled)
	assert.Equal(t, 1, result.Crawl.CatalogImagesDownloaded)
	assert.False(t, result.Crawl.CrawledAt.IsZero())

	got := h.reload(t, project.ID)
	assert.Equal(t, db.StatusResearchComplete, got.Status)
	require.NotNil(t, got.ResearchData)
	assert.Equal(t, "Blue Mug", got.ResearchData.Products[0].Name)
	assert.Len(t, got.ResearchData.SiteImages, 2)
	assert.NotEmpty(t, logMessages(got, 0, "success"))
}

func TestResearchTargetEmptyLLMResponse(t *testing.T) {
	h := newHarness(t)
	h.fetch.pages[shopURL] = shopHomepage
	h.llm.reply = func(req llm.Request) (*llm.Response, error) {
		return textResponse(t, ""), nil
	}
	project := h.createProject(t, nil, nil)

	_, err := h.p.ResearchTarget(context.Background(), project.ID, h.userID)
	assert.ErrorIs(t, err, ErrEmptyLLMResponse)

	got := h.reload(t, project.ID)
	assert.Equal(t, db.StatusError, got.Status)
	assert.Equal(t, ErrEmptyLLMResponse.Error(), got.ErrorMessage)
	assert.Nil(t, got.ResearchData)
}

func TestResearchTargetContentRejectedStopsPipeline(t *testing.T) {
	h := newHarness(t)
	h.fetch.pages[shopURL] = `<html><body data-site-replicator="1"><a href="/about">About</a></body></html>`
	h.fetch.pages[shopURL+"/about"] = "<html><body>About</body></html>"
	project := h.createProject(t, nil, nil)

	_, err := h.p.ResearchTarget(context.Background(), project.ID, h.userID)
	assert.ErrorIs(t, err, ErrContentRejected)

	assert.Equal(t, []string{shopURL}, h.fetch.fetches)
	assert.Empty(t, h.fetch.downloads)
	assert.Zero(t, h.llm.count())
	got := h.reload(t, project.ID)
	assert.Equal(t, db.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "cannot be cloned")
}

func TestResearchTargetHomepageUnavailable(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t, nil, nil)

	_, err := h.p.ResearchTarget(context.Background(), project.ID, h.userID)
	require.Error(t, err)
	assert.Equal(t, db.StatusError, h.reload(t, project.ID).Status)
	assert.Zero(t, h.llm.count())
}

func TestGenerateBuildPlanWithoutResearch(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t, nil, nil)

	_, err := h.p.GenerateBuildPlan(context.Background(), project.ID, h.userID, PlanOptions{})
	assert.ErrorIs(t, err, ErrMissingResearch)

	got := h.reload(t, project.ID)
	assert.Equal(t, db.StatusResearching, got.Status)
	assert.Empty(t, got.BuildLog)
	assert.Zero(t, h.llm.count())
}

func TestGenerateBuildPlan(t *testing.T) {
	h := newHarness(t)
	h.llm.reply = func(req llm.Request) (*llm.Response, error) {
		return textResponse(t, `{"projectName":"clone","summary":"s","fileStructure":[{"path":"package.json","priority":"critical"}],
"buildSteps":[{"step":7,"title":"Scaffold","files":["package.json"],"commands":["npm install"]},{"title":"Pages","files":["app/page.tsx"]}]}`), nil
	}
	project := h.createProject(t, []string{"status", "research_data"}, func(p *db.ReplicateProject) {
		p.Status = db.StatusResearchComplete
		p.ResearchData = sampleResearch()
	})

	plan, err := h.p.GenerateBuildPlan(context.Background(), project.ID, h.userID, PlanOptions{})
	require.NoError(t, err)
	require.Len(t, plan.BuildSteps, 2)
	assert.Equal(t, 1, plan.BuildSteps[0].Step)
	assert.Equal(t, 2, plan.BuildSteps[1].Step)

	req := h.llm.requests[0]
	assert.Equal(t, "build_plan", req.ResponseFormat.JSONSchema.Name)
	assert.Contains(t, req.Messages[1].Content, "- Catalog")
	assert.NotContains(t, req.Messages[1].Content, "- Checkout")

	got := h.reload(t, project.ID)
	assert.Equal(t, db.StatusPlanComplete, got.Status)
	assert.Equal(t, 2, got.TotalSteps)
	require.NotNil(t, got.BuildPlan)
	assert.Equal(t, "clone", got.BuildPlan.ProjectName)
}

func TestGenerateBuildPlanFeatureOverride(t *testing.T) {
	h := newHarness(t)
	h.llm.reply = func(req llm.Request) (*llm.Response, error) {
		return textResponse(t, `{"buildSteps":[{"title":"Scaffold"}]}`), nil
	}
	project := h.createProject(t, []string{"status", "research_data"}, func(p *db.ReplicateProject) {
		p.Status = db.StatusResearchComplete
		p.ResearchData = sampleResearch()
	})

	_, err := h.p.GenerateBuildPlan(context.Background(), project.ID, h.userID, PlanOptions{
		Features:  []string{"Wishlist"},
		TechStack: &model.TechStack{Frontend: "SvelteKit"},
	})
	require.NoError(t, err)
	prompt := h.llm.requests[0].Messages[1].Content
	assert.Contains(t, prompt, "- Wishlist")
	assert.NotContains(t, prompt, "- Catalog")
	assert.Contains(t, prompt, "SvelteKit")
}

func TestGenerateBuildPlanRejectsPlanWithoutSteps(t *testing.T) {
	h := newHarness(t)
	h.llm.reply = func(req llm.Request) (*llm.Response, error) {
		return textResponse(t, `{"projectName":"clone","buildSteps":[]}`), nil
	}
	project := h.createProject(t, []string{"status", "research_data"}, func(p *db.ReplicateProject) {
		p.Status = db.StatusResearchComplete
		p.ResearchData = sampleResearch()
	})

	_, err := h.p.GenerateBuildPlan(context.Background(), project.ID, h.userID, PlanOptions{})
	require.Error(t, err)
	got := h.reload(t, project.ID)
	assert.Equal(t, db.StatusError, got.Status)
	assert.Nil(t, got.BuildPlan)
}

func TestExecuteBuildWithoutPlan(t *testing.T) {
	h := newHarness(t)
	project := h.createProject(t, nil, nil)

	_, err := h.p.ExecuteBuild(context.Background(), project.ID, h.userID)
	assert.ErrorIs(t, err, ErrMissingPlan)
	assert.Equal(t, db.StatusResearching, h.reload(t, project.ID).Status)
	assert.Zero(t, h.sandbox.created)
}

func TestExecuteBuildStepPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.fetch.images[shopURL+"/hero.jpg"] = jpeg(2000)
	h.fetch.images[shopURL+"/mug.jpg"] = jpeg(1000)
	h.sandbox.exitCodes["mkdir src"] = 1
	h.sandbox.exitCodes["npm run lint"] = 2
	h.llm.reply = func(req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Messages[1].Content, "step 1 of 2") {
			return nil, errors.New("upstream timeout")
		}
		return textResponse(t, "Here you go:\n```json\n[{\"path\":\"/app/page.tsx\",\"content\":\"export default function Page() { return null }\"}]\n```"), nil
	}
	project := h.createProject(t, []string{"status", "research_data", "build_plan", "total_steps"}, func(p *db.ReplicateProject) {
		p.Status = db.StatusPlanComplete
		p.ResearchData = sampleResearch()
		p.BuildPlan = samplePlan()
		p.TotalSteps = 2
	})

	outcome, err := h.p.ExecuteBuild(context.Background(), project.ID, h.userID)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	require.Len(t, outcome.Steps, 2)
	first := outcome.Steps[0]
	assert.True(t, first.Attempted)
	assert.Zero(t, first.FilesWritten)
	require.Len(t, first.FileErrors, 1)
	assert.Contains(t, first.FileErrors[0], "upstream timeout")
	require.Len(t, first.CommandResults, 2)
	assert.Equal(t, 1, first.CommandResults[0].ExitCode)
	assert.Equal(t, 2, first.CommandResults[1].ExitCode)

	second := outcome.Steps[1]
	assert.True(t, second.Attempted)
	assert.Equal(t, 1, second.FilesWritten)
	assert.Empty(t, second.FileErrors)
	assert.Equal(t, []string{"mkdir src", "npm run lint", "npm run build"}, h.sandbox.commands)
	assert.Equal(t, "export default function Page() { return null }", h.sandbox.files["app/page.tsx"])

	assert.Len(t, h.sandbox.binary["public/images/hero/welcome-aaaa1111.jpg"], 2000)
	assert.Len(t, h.sandbox.binary["public/images/products/blue-mug-1a2b3c4d.jpg"], 1000)
	assert.Equal(t, []ImageWriteResult{{Source: "site", Written: 1}, {Source: "catalog", Written: 1}}, outcome.Images)
	assert.Equal(t, 1, h.sandbox.persisted)

	got := h.reload(t, project.ID)
	assert.Equal(t, db.StatusBuildComplete, got.Status)
	assert.Equal(t, 2, got.CurrentStep)
	assert.Equal(t, []string{"package.json", "app/page.tsx"}, got.OutputFiles)
	require.NotNil(t, got.SandboxID)
	assert.Equal(t, "sbx-1", *got.SandboxID)

	stepOneErrors := logMessages(got, 1, "error")
	assert.True(t, containsMessage(stepOneErrors, "File generation failed"))
	assert.True(t, containsMessage(stepOneErrors, "npm run lint"))
	assert.False(t, containsMessage(stepOneErrors, "mkdir"))
	assert.Len(t, logMessages(got, 1, "success"), 1)
	assert.Len(t, logMessages(got, 2, "success"), 1)
	assert.Empty(t, logMessages(got, 2, "error"))

	files, err := service.ListProjectFiles(h.db, project.ID, h.userID)
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.Equal(t, outcome.FilesIndexed, len(files))
	assert.Contains(t, h.blob.puts, "projects/"+project.ID+"/files/app/page.tsx")
}

func TestExecuteBuildReusesSandbox(t *testing.T) {
	h := newHarness(t)
	h.llm.reply = func(req llm.Request) (*llm.Response, error) {
		return textResponse(t, "not json at all"), nil
	}
	project := h.createProject(t, []string{"status", "build_plan"}, func(p *db.ReplicateProject) {
		p.Status = db.StatusPlanComplete
		p.BuildPlan = samplePlan()
	})

	_, err := h.p.ExecuteBuild(context.Background(), project.ID, h.userID)
	require.NoError(t, err)
	_, err = h.p.ExecuteBuild(context.Background(), project.ID, h.userID)
	require.NoError(t, err)

	assert.Equal(t, 1, h.sandbox.created)
	got := h.reload(t, project.ID)
	assert.Equal(t, db.StatusBuildComplete, got.Status)
	assert.True(t, containsMessage(logMessages(got, 1, "error"), "returned no files"))
}

func builtProject(t *testing.T, h *harness, status db.ProjectStatus) *db.ReplicateProject {
	h.sandbox.files["package.json"] = `{"name":"clone"}`
	h.sandbox.files["app/page.tsx"] = "export default 1"
	h.sandbox.files["node_modules/react/index.js"] = "module.exports = {}"
	sandboxID := "sbx-1"
	return h.createProject(t, []string{"status", "sandbox_id", "research_data"}, func(p *db.ReplicateProject) {
		p.Status = status
		p.SandboxID = &sandboxID
		p.ResearchData = sampleResearch()
	})
}

func TestPushToGithubMissingToken(t *testing.T) {
	h := newHarness(t)
	project := builtProject(t, h, db.StatusBuildComplete)

	_, err := h.p.PushToGithub(context.Background(), project.ID, h.userID, "clone")
	require.ErrorIs(t, err, ErrMissingGithubToken)
	assert.Contains(t, err.Error(), "token")

	got := h.reload(t, project.ID)
	assert.Equal(t, db.StatusBuildComplete, got.Status)
	assert.Empty(t, got.BuildLog)
	assert.Empty(t, h.git.tokens)
}

func TestPushToGithubRequiresBuild(t *testing.T) {
	h := newHarness(t)
	project := builtProject(t, h, db.StatusPlanComplete)

	_, err := h.p.PushToGithub(context.Background(), project.ID, h.userID, "clone")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, db.StatusPlanComplete, h.reload(t, project.ID).Status)
}

func TestPushToGithub(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, service.SetUserSecret(h.db, h.vault, h.userID, service.SecretGithubToken, "ghp_vault"))
	project := builtProject(t, h, db.StatusBranded)

	res, err := h.p.PushToGithub(context.Background(), project.ID, h.userID, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://github.com/octo/example-shop-clone", res.RepoURL)

	assert.Equal(t, "octo", h.git.owner)
	assert.Equal(t, "example-shop-clone", h.git.repo)
	assert.Contains(t, h.git.tokens, "ghp_vault")
	var paths []string
	for _, f := range h.git.pushed {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{"package.json", "app/page.tsx"}, paths)

	got := h.reload(t, project.ID)
	assert.Equal(t, db.StatusPushed, got.Status)
	assert.Equal(t, res.RepoURL, got.RepoURL)
}

func TestPushToGithubFailureRevertsToBuildComplete(t *testing.T) {
	h := newHarness(t)
	h.git.createErr = errors.New("github API error 401: Bad credentials")
	project := builtProject(t, h, db.StatusBuildComplete)
	project.GithubPAT = "ghp_project"
	require.NoError(t, service.UpdateProject(h.db, project, "github_pat"))

	_, err := h.p.PushToGithub(context.Background(), project.ID, h.userID, "clone")
	require.Error(t, err)
	assert.Equal(t, []string{"ghp_project"}, h.git.tokens)

	got := h.reload(t, project.ID)
	assert.Equal(t, db.StatusBuildComplete, got.Status)
	assert.Contains(t, got.StatusMessage, "Bad credentials")
	assert.Empty(t, got.ErrorMessage)
	assert.True(t, containsMessage(logMessages(got, 0, "error"), "GitHub push failed"))
}
