package rest

import (
	"github.com/Dhoini/numgate/internal/api/rest/handlers"
	"github.com/Dhoini/numgate/internal/middleware"
	"github.com/Dhoini/numgate/internal/service"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps зависимости HTTP слоя
type RouterDeps struct {
	Registry      *prometheus.Registry
	Inbound       service.InboundRouter
	PublicBaseURL string
	Approvals     service.ApprovalService
	AdminID       int64
	Updates       handlers.UpdateHandler
	WebhookSecret string
	Auth          *middleware.JWTMiddleware
	Ready         handlers.ReadinessFunc
}

// SetupRouter собирает gin engine. Webhook чата подключается только при
// заданном Updates, admin API только при заданном Auth.
func SetupRouter(deps RouterDeps, log *logger.Logger) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestLogger(log))
	r.Use(gin.Recovery())

	r.GET("/health", handlers.NewHealthHandler(deps.Ready).HealthCheck)
	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	webhookHandler := handlers.NewWebhookHandler(deps.Inbound, deps.PublicBaseURL, log)
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/sms", webhookHandler.HandleSMS)
		webhooks.POST("/sms/:userID", webhookHandler.HandleSMS)
		webhooks.POST("/status/:userID", webhookHandler.HandleStatus)
		if deps.Updates != nil {
			webhooks.POST("/telegram", handlers.NewTelegramHandler(deps.Updates, deps.WebhookSecret, log).HandleUpdate)
		}
	}

	if deps.Auth != nil && deps.Approvals != nil {
		adminHandler := handlers.NewAdminHandler(deps.Approvals, deps.AdminID, log)
		admin := r.Group("/api/v1/admin", deps.Auth.RequireAuth(middleware.ScopeAdmin))
		{
			admin.GET("/requests", adminHandler.ListPending)
			admin.POST("/requests/:id/decision", adminHandler.Decide)
		}
	}

	return r
}
