package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/middleware"
	"github.com/sykell/site-replicator/internal/model"
	"github.com/sykell/site-replicator/internal/pipeline"
	"github.com/sykell/site-replicator/internal/service"
)

// Submitter queues stage jobs. *pipeline.Runner implements it.
type Submitter interface {
	Submit(job pipeline.Job) error
}

// BrandingRequest is the optional rebranding of a new project
type BrandingRequest struct {
	Name    string   `json:"name" binding:"max=255"`
	Colors  []string `json:"colors" binding:"max=10,dive,max=32"`
	Logo    string   `json:"logo" binding:"omitempty,url,max=2048"`
	Tagline string   `json:"tagline" binding:"max=512"`
}

// StripeRequest is the user's own payment configuration
type StripeRequest struct {
	PublishableKey string            `json:"publishable_key" binding:"max=255"`
	SecretKey      string            `json:"secret_key" binding:"max=255"`
	PriceIDs       map[string]string `json:"price_ids"`
}

// CreateProjectRequest represents the project creation request
type CreateProjectRequest struct {
	TargetURL         string          `json:"target_url" binding:"required_without=TargetName,max=2048"`
	TargetName        string          `json:"target_name" binding:"max=255"`
	TargetDescription string          `json:"target_description" binding:"max=4000"`
	Priority          db.Priority     `json:"priority" binding:"omitempty,oneof=mvp full"`
	Branding          BrandingRequest `json:"branding"`
	Stripe            StripeRequest   `json:"stripe"`
	GithubPAT         string          `json:"github_pat" binding:"max=255"`
}

// PlanRequest overrides the features and tech stack used for planning
type PlanRequest struct {
	Features  []string         `json:"features" binding:"max=50,dive,min=1,max=200"`
	TechStack *model.TechStack `json:"tech_stack"`
}

// PushRequest names the GitHub repository to push to
type PushRequest struct {
	RepoName string `json:"repo_name" binding:"omitempty,max=100,excludesall=/"`
}

// PaginatedResponse represents a paginated response
type PaginatedResponse struct {
	Data  interface{} `json:"data"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
	Total int64       `json:"total"`
	Pages int         `json:"pages"`
}

// StageResponse acknowledges a queued stage
type StageResponse struct {
	ProjectID string         `json:"project_id"`
	Stage     pipeline.Stage `json:"stage"`
	Status    string         `json:"status"`
}

// CreateProjectHandler checks the target against the safety gate, stores the
// project and queues its research stage
func CreateProjectHandler(p *pipeline.Pipeline, runner Submitter, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var req CreateProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid project request",
				"details": err.Error(),
			})
			return
		}

		project, err := p.CreateProject(c.Request.Context(), user.UserID, pipeline.CreateInput{
			TargetURL:         req.TargetURL,
			TargetName:        req.TargetName,
			TargetDescription: req.TargetDescription,
			Priority:          req.Priority,
			Branding: model.Branding{
				Name:    strings.TrimSpace(req.Branding.Name),
				Colors:  req.Branding.Colors,
				Logo:    req.Branding.Logo,
				Tagline: req.Branding.Tagline,
			},
			Stripe: model.StripeConfig{
				PublishableKey: req.Stripe.PublishableKey,
				SecretKey:      req.Stripe.SecretKey,
				PriceIDs:       req.Stripe.PriceIDs,
			},
			GithubPAT: strings.TrimSpace(req.GithubPAT),
		})
		if err != nil {
			if pipeline.IsPolicyError(err) {
				log.Info("project target blocked", "user_id", user.UserID, "target", req.TargetURL, "name", req.TargetName)
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Error("failed to create project", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save project"})
			return
		}

		// The project exists either way; research can be re-queued later.
		if err := runner.Submit(pipeline.Job{ProjectID: project.ID, UserID: user.UserID, Stage: pipeline.StageResearch}); err != nil {
			log.Warn("failed to queue research", "project_id", project.ID, "error", err)
		}

		c.JSON(http.StatusCreated, project)
	}
}

// ListProjectsHandler handles project listing with pagination and search
func ListProjectsHandler(dbConn *gorm.DB, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			page = 1
		}

		pageSize, err := strconv.Atoi(c.DefaultQuery("size", "10"))
		if err != nil || pageSize < 1 || pageSize > 100 {
			pageSize = 10
		}

		projects, total, err := service.ListProjects(dbConn, user.UserID, service.ListOptions{
			Page:   page,
			Size:   pageSize,
			Sort:   c.DefaultQuery("sort", "created_at desc"),
			Status: strings.TrimSpace(c.Query("status")),
			Query:  strings.TrimSpace(c.Query("q")),
		})
		if err != nil {
			log.Error("failed to list projects", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(http.StatusOK, PaginatedResponse{
			Data:  projects,
			Page:  page,
			Size:  pageSize,
			Total: total,
			Pages: int((total + int64(pageSize) - 1) / int64(pageSize)),
		})
	}
}

// GetProjectHandler handles retrieving a single project
func GetProjectHandler(dbConn *gorm.DB, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := loadProject(c, dbConn, log)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

// DeleteProjectHandler deletes a project and its file listing
func DeleteProjectHandler(dbConn *gorm.DB, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		affected, err := service.DeleteProject(dbConn, c.Param("id"), user.UserID)
		if err != nil {
			log.Error("failed to delete project", "project_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete project"})
			return
		}
		if affected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}

		log.Info("project deleted", "project_id", c.Param("id"), "user_id", user.UserID)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// StageHandler validates the prerequisites of stage and queues it. The stage
// itself runs on the runner; progress is visible through the project and its
// log.
func StageHandler(dbConn *gorm.DB, p *pipeline.Pipeline, runner Submitter, stage pipeline.Stage, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := loadProject(c, dbConn, log)
		if !ok {
			return
		}

		job := pipeline.Job{ProjectID: project.ID, UserID: project.UserID, Stage: stage}
		switch stage {
		case pipeline.StagePlan:
			var req PlanRequest
			if !bindOptionalJSON(c, &req) {
				return
			}
			job.Plan = pipeline.PlanOptions{Features: req.Features, TechStack: req.TechStack}
		case pipeline.StagePush:
			var req PushRequest
			if !bindOptionalJSON(c, &req) {
				return
			}
			job.RepoName = req.RepoName
		}

		if err := pipeline.Precheck(project, stage); err != nil {
			respondStageError(c, err)
			return
		}
		if stage == pipeline.StagePush {
			if _, err := p.GithubToken(project); err != nil {
				respondStageError(c, err)
				return
			}
		}

		if err := runner.Submit(job); err != nil {
			log.Warn("failed to queue stage", "project_id", project.ID, "stage", stage, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Pipeline is busy, try again later"})
			return
		}

		log.Info("stage queued", "project_id", project.ID, "stage", stage)
		c.JSON(http.StatusAccepted, StageResponse{ProjectID: project.ID, Stage: stage, Status: "queued"})
	}
}

// ListFilesHandler returns the indexed workspace files of a project
func ListFilesHandler(dbConn *gorm.DB, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := loadProject(c, dbConn, log)
		if !ok {
			return
		}

		files, err := service.ListProjectFiles(dbConn, project.ID, project.UserID)
		if err != nil {
			log.Error("failed to list project files", "project_id", project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": files, "total": len(files)})
	}
}

// BuildLogHandler returns the build log of a project. The after query
// parameter skips entries a client has already seen.
func BuildLogHandler(dbConn *gorm.DB, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, ok := loadProject(c, dbConn, log)
		if !ok {
			return
		}

		after, err := strconv.Atoi(c.DefaultQuery("after", "0"))
		if err != nil || after < 0 {
			after = 0
		}
		entries := project.BuildLog
		if after > len(entries) {
			after = len(entries)
		}
		entries = entries[after:]
		if entries == nil {
			entries = []model.BuildLogEntry{}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       project.Status,
			"current_step": project.CurrentStep,
			"total_steps":  project.TotalSteps,
			"next":         after + len(entries),
			"entries":      entries,
		})
	}
}

func currentUser(c *gin.Context) (*middleware.UserContext, bool) {
	user, ok := middleware.GetUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, false
	}
	return user, true
}

// loadProject resolves the :id route parameter for the current user
func loadProject(c *gin.Context, dbConn *gorm.DB, log *slog.Logger) (*db.ReplicateProject, bool) {
	user, ok := currentUser(c)
	if !ok {
		return nil, false
	}

	project, err := service.GetProject(dbConn, c.Param("id"), user.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return nil, false
		}
		log.Error("failed to fetch project", "project_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return nil, false
	}
	return project, true
}

// bindOptionalJSON binds the request body into v. An empty body is allowed.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func respondStageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrMissingResearch),
		errors.Is(err, pipeline.ErrMissingPlan),
		errors.Is(err, pipeline.ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrMissingGithubToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
