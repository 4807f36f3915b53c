package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"github.com/sykell/site-replicator/internal/api"
	"github.com/sykell/site-replicator/internal/crawler"
	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/extract"
	"github.com/sykell/site-replicator/internal/fetch"
	"github.com/sykell/site-replicator/internal/github"
	"github.com/sykell/site-replicator/internal/llm"
	"github.com/sykell/site-replicator/internal/logger"
	"github.com/sykell/site-replicator/internal/middleware"
	"github.com/sykell/site-replicator/internal/pipeline"
	"github.com/sykell/site-replicator/internal/resilience"
	"github.com/sykell/site-replicator/internal/safety"
	"github.com/sykell/site-replicator/internal/sandbox"
	"github.com/sykell/site-replicator/internal/service"
	"github.com/sykell/site-replicator/internal/storage"
)

// Config holds application configuration
type Config struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	SecretsKey      string
	PageCacheMB     int64
	ExtractVocab    string
	CrawlVocab      string
	SafetyRules     string
}

// NewConfig creates a new configuration from environment variables
func NewConfig() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	var cacheMB int64
	if v, err := strconv.ParseInt(os.Getenv("PAGE_CACHE_MB"), 10, 64); err == nil && v > 0 {
		cacheMB = v
	}

	return &Config{
		Port:            port,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		SecretsKey:      os.Getenv("SECRETS_KEY"),
		PageCacheMB:     cacheMB,
		ExtractVocab:    os.Getenv("EXTRACT_VOCABULARY_FILE"),
		CrawlVocab:      os.Getenv("CRAWL_VOCABULARY_FILE"),
		SafetyRules:     os.Getenv("SAFETY_RULES_FILE"),
	}
}

func main() {
	config := NewConfig()
	log := logger.New(logger.NewConfig())
	slog.SetDefault(log)

	log.Info("initializing database")
	dbConn, err := db.InitDB()
	if err != nil {
		fatal(log, "failed to initialize database", err)
	}

	if config.SecretsKey == "" {
		log.Warn("SECRETS_KEY not set, user secrets are sealed with a default key")
		config.SecretsKey = "changeme"
	}
	vault := service.NewSecretBox(config.SecretsKey)

	// Scraping stack
	var fetchOpts []fetch.Option
	if config.PageCacheMB > 0 {
		cache, err := fetch.NewPageCache(config.PageCacheMB << 20)
		if err != nil {
			fatal(log, "failed to create page cache", err)
		}
		defer cache.Close()
		fetchOpts = append(fetchOpts, fetch.WithPageCache(cache, 10*time.Minute))
	}
	fetcher := fetch.New(fetchOpts...)

	extractor := extract.Default()
	if config.ExtractVocab != "" {
		vocab, err := extract.LoadVocabulary(config.ExtractVocab)
		if err != nil {
			fatal(log, "failed to load extraction vocabulary", err)
		}
		extractor = extract.New(vocab)
	}

	var crawlOpts []crawler.Option
	if config.CrawlVocab != "" {
		vocab, err := crawler.LoadVocabulary(config.CrawlVocab)
		if err != nil {
			fatal(log, "failed to load crawl vocabulary", err)
		}
		crawlOpts = append(crawlOpts, crawler.WithVocabulary(vocab))
	}
	siteCrawler := crawler.New(fetcher, extractor, crawler.NewConfig(), log, crawlOpts...)

	rules := safety.DefaultRules()
	if config.SafetyRules != "" {
		data, err := os.ReadFile(config.SafetyRules)
		if err != nil {
			fatal(log, "failed to read safety rules", err)
		}
		if rules, err = safety.ParseRules(data); err != nil {
			fatal(log, "failed to parse safety rules", err)
		}
	}
	gate := safety.NewGate(rules, safety.NewConfig())

	// Outbound services
	llmClient := llm.NewClient(llm.NewConfig())
	llmClient.SetBreaker(resilience.NewBreaker(5, 30*time.Second))
	sandboxClient := sandbox.NewClient(sandbox.NewConfig())
	sandboxClient.SetBreaker(resilience.NewBreaker(5, 30*time.Second))
	storageClient := storage.NewClient(storage.NewConfig())
	storageClient.SetBreaker(resilience.NewBreaker(5, 30*time.Second))

	p := pipeline.New(pipeline.Deps{
		DB:        dbConn,
		Log:       log,
		Fetch:     fetcher,
		Crawler:   siteCrawler,
		Extractor: extractor,
		Gate:      gate,
		LLM:       llmClient,
		Sandbox:   sandboxClient,
		Blob:      storageClient,
		Git:       github.NewClient(github.NewConfig()),
		Vault:     vault,
	}, nil)

	runner := pipeline.NewRunner(p, pipeline.NewRunnerConfig())
	if err := runner.Start(); err != nil {
		fatal(log, "failed to start pipeline runner", err)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())

	api.RegisterRoutes(r, api.Deps{
		DB:       dbConn,
		Auth:     api.NewAuthConfig(),
		Pipeline: p,
		Runner:   runner,
		Vault:    vault,
		Log:      log,
	})

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	go func() {
		log.Info("starting server", "port", config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "failed to start server", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	// Running stages are cancelled and record their failure on the project.
	if err := runner.Stop(); err != nil {
		log.Error("failed to stop pipeline runner", "error", err)
	}

	log.Info("server exited")
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
