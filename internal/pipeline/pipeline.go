// Package pipeline runs the replication stages of a project: research,
// build plan, build and push. Each stage reads its prerequisite artifact
// from the project store, writes its own artifact back and advances the
// project status.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/sykell/site-replicator/internal/crawler"
	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/extract"
	"github.com/sykell/site-replicator/internal/github"
	"github.com/sykell/site-replicator/internal/llm"
	"github.com/sykell/site-replicator/internal/model"
	"github.com/sykell/site-replicator/internal/safety"
	"github.com/sykell/site-replicator/internal/sandbox"
	"github.com/sykell/site-replicator/internal/service"
)

// LLM is the structured-generation service.
type LLM interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Sandbox is the remote per-user execution environment.
type Sandbox interface {
	CreateSandbox(ctx context.Context, userID uint, name string, limits sandbox.Limits) (string, error)
	ExecuteCommand(ctx context.Context, sandboxID string, userID uint, command string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error)
	WriteFile(ctx context.Context, sandboxID string, userID uint, path, content string) error
	WriteBinaryFile(ctx context.Context, sandboxID string, userID uint, path string, data []byte) error
	ReadFile(ctx context.Context, sandboxID string, userID uint, path string) (string, bool, error)
	ReadBinaryFile(ctx context.Context, sandboxID string, userID uint, path string) ([]byte, bool, error)
	ListFiles(ctx context.Context, sandboxID string, userID uint, path string) ([]sandbox.FileEntry, error)
	PersistWorkspace(ctx context.Context, sandboxID string, userID uint) error
}

// Blob stores build outputs.
type Blob interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Git publishes a workspace to a source-control host.
type Git interface {
	CurrentUser(ctx context.Context, token string) (string, error)
	CreateRepo(ctx context.Context, token, name, description string, private bool) (*github.Repo, error)
	PushFiles(ctx context.Context, token, owner, repo, branch, message string, files []github.File) (string, error)
}

// Config holds pipeline tuning.
type Config struct {
	DeepCrawlPages    int
	CatalogPages      int
	CatalogProducts   int
	CatalogImages     int
	SiteImages        int
	ImageLogBatch     int
	WorkingDirectory  string
	ResearchMaxTokens int
	PlanMaxTokens     int
	FilesMaxTokens    int
}

// DefaultConfig returns the stage bounds used in production.
func DefaultConfig() *Config {
	return &Config{
		DeepCrawlPages:    20,
		CatalogPages:      100,
		CatalogProducts:   500,
		CatalogImages:     200,
		SiteImages:        200,
		ImageLogBatch:     25,
		WorkingDirectory:  "/workspace",
		ResearchMaxTokens: 16000,
		PlanMaxTokens:     16000,
		FilesMaxTokens:    32000,
	}
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	DB        *gorm.DB
	Log       *slog.Logger
	Fetch     crawler.Fetcher
	Crawler   *crawler.Crawler
	Extractor *extract.Extractor
	Gate      *safety.Gate
	LLM       LLM
	Sandbox   Sandbox
	Blob      Blob
	Git       Git
	Vault     *service.SecretBox
	Resolver  *Resolver
}

// Pipeline executes stages for any project; it holds no per-project state.
type Pipeline struct {
	db        *gorm.DB
	log       *slog.Logger
	fetch     crawler.Fetcher
	crawler   *crawler.Crawler
	extractor *extract.Extractor
	gate      *safety.Gate
	llm       LLM
	sandbox   Sandbox
	blob      Blob
	git       Git
	vault     *service.SecretBox
	resolver  *Resolver
	validate  *validator.Validate
	cfg       *Config
}

// New creates a Pipeline. A nil cfg selects DefaultConfig; a non-positive
// ImageLogBatch takes the default batch size.
func New(deps Deps, cfg *Config) *Pipeline {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ImageLogBatch <= 0 {
		c := *cfg
		c.ImageLogBatch = DefaultConfig().ImageLogBatch
		cfg = &c
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = NewResolver(deps.Fetch, "")
	}
	return &Pipeline{
		db:        deps.DB,
		log:       log,
		fetch:     deps.Fetch,
		crawler:   deps.Crawler,
		extractor: deps.Extractor,
		gate:      deps.Gate,
		llm:       deps.LLM,
		sandbox:   deps.Sandbox,
		blob:      deps.Blob,
		git:       deps.Git,
		vault:     deps.Vault,
		resolver:  resolver,
		validate:  validator.New(),
		cfg:       cfg,
	}
}

// stageLogger scopes log records to one project.
func (p *Pipeline) stageLogger(stage Stage, project *db.ReplicateProject) *slog.Logger {
	return p.log.With("stage", string(stage), "project_id", project.ID, "user_id", project.UserID)
}

// transition moves project to status and writes columns alongside.
func (p *Pipeline) transition(project *db.ReplicateProject, status db.ProjectStatus, message string, columns ...string) error {
	return service.UpdateProjectStatus(p.db, project, status, message, columns...)
}

// fail moves project to the error state and returns err. Store failures
// while recording the error are logged; the stage error wins.
func (p *Pipeline) fail(log *slog.Logger, project *db.ReplicateProject, step int, err error) error {
	log.Error("stage failed", "error", err)
	p.appendLog(log, project, step, model.LogError, err.Error())
	if uerr := p.transition(project, db.StatusError, err.Error()); uerr != nil {
		log.Error("failed to record error status", "error", uerr)
	}
	return err
}

// appendLog adds one entry to the project's build log.
func (p *Pipeline) appendLog(log *slog.Logger, project *db.ReplicateProject, step int, status model.LogStatus, message string) {
	entry := model.BuildLogEntry{Step: step, Status: status, Message: message}
	if err := service.AppendBuildLog(p.db, project, entry); err != nil {
		log.Warn("failed to append build log", "error", err)
	}
}

// userAPIKey returns the user's own LLM key from the vault, if any.
func (p *Pipeline) userAPIKey(userID uint) string {
	if p.vault == nil {
		return ""
	}
	key, err := service.GetUserSecret(p.db, p.vault, userID, service.SecretLLMKey)
	if err != nil {
		p.log.Warn("failed to read user LLM key", "user_id", userID, "error", err)
		return ""
	}
	return key
}
