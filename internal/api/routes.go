package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sykell/site-replicator/internal/middleware"
	"github.com/sykell/site-replicator/internal/pipeline"
	"github.com/sykell/site-replicator/internal/service"
)

// Deps are the collaborators of the HTTP API
type Deps struct {
	DB       *gorm.DB
	Auth     *Config
	Pipeline *pipeline.Pipeline
	Runner   Submitter
	Vault    *service.SecretBox
	Log      *slog.Logger
}

// RegisterRoutes mounts the health check, login and the protected project
// and secret routes on r
func RegisterRoutes(r *gin.Engine, deps Deps) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   "site-replicator",
		})
	})

	r.POST("/auth/login", LoginHandler(deps.DB, deps.Auth, log))

	authorized := r.Group("/")
	authorized.Use(middleware.JWTRequired(deps.Auth.JWTSecret, log))
	{
		authorized.POST("/projects", CreateProjectHandler(deps.Pipeline, deps.Runner, log))
		authorized.GET("/projects", ListProjectsHandler(deps.DB, log))
		authorized.GET("/projects/:id", GetProjectHandler(deps.DB, log))
		authorized.DELETE("/projects/:id", DeleteProjectHandler(deps.DB, log))
		authorized.POST("/projects/:id/research", StageHandler(deps.DB, deps.Pipeline, deps.Runner, pipeline.StageResearch, log))
		authorized.POST("/projects/:id/plan", StageHandler(deps.DB, deps.Pipeline, deps.Runner, pipeline.StagePlan, log))
		authorized.POST("/projects/:id/build", StageHandler(deps.DB, deps.Pipeline, deps.Runner, pipeline.StageBuild, log))
		authorized.POST("/projects/:id/push", StageHandler(deps.DB, deps.Pipeline, deps.Runner, pipeline.StagePush, log))
		authorized.GET("/projects/:id/files", ListFilesHandler(deps.DB, log))
		authorized.GET("/projects/:id/log", BuildLogHandler(deps.DB, log))
		authorized.PUT("/secrets/github", PutSecretHandler(deps.DB, deps.Vault, service.SecretGithubToken, log))
		authorized.PUT("/secrets/llm", PutSecretHandler(deps.DB, deps.Vault, service.SecretLLMKey, log))
	}
}
