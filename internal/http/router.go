// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relay/internal/http/handlers"
	"relay/internal/http/middleware"
)

func NewRouter(events handlers.EventHandler, webhookSecret string, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.Logging(logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	wh := handlers.NewWebhookHandler(events, logger)
	hooks := r.Group("/webhooks", middleware.SharedSecret(webhookSecret))
	{
		hooks.POST("/orders/create", wh.OrderCreated)
		hooks.POST("/checkouts/abandoned", wh.CheckoutAbandoned)
		hooks.POST("/courier/status", wh.CourierStatus)
		hooks.POST("/messages", wh.Messages)
	}

	return r
}
