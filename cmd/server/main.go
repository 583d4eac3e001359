package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/hosting"
	"github.com/prsentry/prsentry/internal/models"
	"github.com/prsentry/prsentry/internal/provider"
	"github.com/prsentry/prsentry/internal/repows"
	"github.com/prsentry/prsentry/internal/services"
	"github.com/prsentry/prsentry/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatalf("config load failed: %v", err)
	}

	logger.Init(cfg.Server.LogLevel)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("database connection failed: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("database migration failed: %v", err)
	}
	if err := models.SeedDefaults(&cfg.Review); err != nil {
		logger.Warnf("default config seed failed: %v", err)
	}

	client := hosting.NewGiteaClient(cfg.Gitea.BaseURL, cfg.Gitea.Token)

	workspaces, err := repows.NewManager(
		cfg.Review.WorkDir,
		time.Duration(cfg.Review.CloneTimeoutSeconds)*time.Second,
		cfg.Review.MinDiskSpaceMB,
	)
	if err != nil {
		logger.Fatalf("workspace manager init failed: %v", err)
	}

	registry := provider.NewRegistry()
	registry.Register("claude_code", provider.NewClaudeCodeEngine)
	registry.Register("codex_cli", provider.NewCodexCLIEngine)
	registry.Register("openai_api", provider.NewOpenAIEngine)
	registry.Register("anthropic_api", provider.NewAnthropicEngine)
	registry.Register("ollama", provider.NewOllamaEngine)
	registry.Register("gemini", provider.NewGeminiEngine)

	engine := services.NewReviewEngine(models.GetDB(), cfg, client, workspaces, registry)

	queue := services.NewTaskQueue(&cfg.Redis, engine.Run)

	var worker *services.Worker
	if queue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis, engine.Run)
		if err := worker.Start(); err != nil {
			logger.Fatalf("worker start failed: %v", err)
		}
	}

	maintenance := services.NewMaintenance(&cfg.Review, workspaces, models.GetDB())
	if err := maintenance.Start(); err != nil {
		logger.Fatalf("maintenance scheduler start failed: %v", err)
	}

	gin.SetMode(cfg.Server.Mode)
	router := newRouter(cfg, queue, models.GetDB(), client)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown error: %v", err)
	}

	maintenance.Stop()
	if worker != nil {
		worker.Stop()
	}
	if err := queue.Close(); err != nil {
		logger.Errorf("queue close error: %v", err)
	}

	logger.Info().Msg("shutdown complete")
}
