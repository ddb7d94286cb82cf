package router

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bluefly-sync/api/handlers"
	"bluefly-sync/api/middleware"
	"bluefly-sync/config"
	"bluefly-sync/internal/eventlog"
	"bluefly-sync/internal/queue"
	"bluefly-sync/pkg/logger"
)

// WebhookHandler interface for both standard and debug handlers
type WebhookHandler interface {
	HandleWebhook(c *gin.Context)
}

func Setup(logger *logger.Logger, store eventlog.WebhookStore, publisher queue.Publisher, cfg *config.Config) *gin.Engine {
	router := gin.Default()

	security := middleware.NewSecurityMiddleware(logger.Desugar())
	router.Use(security.CORS())

	// Health check endpoint (no authentication required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Metrics endpoint for Prometheus
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var webhookHandler WebhookHandler
	if os.Getenv("WEBHOOK_DEBUG") == "true" {
		logger.Desugar().Info("Initializing DEBUG webhook handler")
		webhookHandler = handlers.NewDebugShopifyWebhookHandler(logger.Desugar(), store, publisher, cfg.Shopify.WebhookSecret)
	} else {
		webhookHandler = handlers.NewShopifyWebhookHandler(logger.Desugar(), store, publisher, cfg.Shopify.WebhookSecret)
	}

	router.POST("/webhooks/shopify", security.RequireJSON(), webhookHandler.HandleWebhook)

	return router
}
