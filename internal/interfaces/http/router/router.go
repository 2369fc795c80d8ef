// Package router wires handlers and middleware into the gin engine.
package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/infrastructure/config"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/interfaces/http/handler"
	"github.com/wmsync/backend/internal/interfaces/http/middleware"
)

// Handlers groups everything the router mounts
type Handlers struct {
	Webhook *handler.WebhookHandler
	Link    *handler.LinkHandler
	Order   *handler.OrderHandler
	Ops     *handler.OpsHandler
}

// New builds the gin engine with all routes and middleware attached
func New(cfg *config.Config, log *zap.Logger, h Handlers) *gin.Engine {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		_ = engine.SetTrustedProxies(cfg.HTTP.TrustedProxies)
	}

	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.CORSWithConfig(middleware.DefaultCORSConfig()),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	// Liveness and inbound deliveries sit outside the API group: the
	// aggregator and load balancers call them directly.
	engine.GET("/health", h.Ops.Health)
	engine.POST("/webhooks/trackstar", h.Webhook.Receive)

	api := engine.Group("/api/v1")
	{
		link := api.Group("/link")
		{
			link.POST("/token", h.Link.CreateToken)
			link.POST("/exchange", h.Link.Exchange)
		}

		connections := api.Group("/connections")
		{
			connections.GET("/:id/health", h.Ops.ConnectionHealth)
			connections.POST("/:id/sync", h.Ops.TriggerSync)
			connections.PUT("/:id/orders/:orderId", h.Order.Update)
			connections.POST("/:id/orders/:orderId/cancel", h.Order.Cancel)
			connections.POST("/:id/orders/:orderId/notes", h.Order.AddNote)
		}

		api.GET("/breakers", h.Ops.Breakers)
		api.POST("/breakers/reset", h.Ops.ResetBreakers)
		api.POST("/webhooks/replay", h.Ops.ReplayWebhooks)
	}

	return engine
}
