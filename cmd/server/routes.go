package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/handlers"
	"github.com/prsentry/prsentry/internal/hosting"
	"github.com/prsentry/prsentry/internal/middleware"
	"github.com/prsentry/prsentry/internal/services"
	"github.com/prsentry/prsentry/pkg/logger"
	"gorm.io/gorm"
)

func newRouter(cfg *config.Config, queue services.TaskQueue, db *gorm.DB, client hosting.Client) *gin.Engine {
	router := gin.New()
	router.Use(logger.GinLogger(), logger.GinRecovery())
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	router.GET("/health", handlers.Health(queue.IsAsync()))

	webhookHandler := handlers.NewWebhookHandler(
		cfg,
		queue,
		services.NewRepoRegistry(db, client),
		services.NewDeliveryLog(db),
	)
	router.POST("/webhook",
		middleware.RateLimit(cfg.Webhook.RateLimit, cfg.Webhook.RateBurst),
		webhookHandler.Handle,
	)

	sessionHandler := handlers.NewSessionHandler(services.NewSessionService(db))
	api := router.Group("/api")
	{
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.Get)
	}

	return router
}
