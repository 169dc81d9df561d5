package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	recist "github.com/recist/recist/internal/model"
	"github.com/recist/recist/internal/service"
)

// Deps is every handler dependency the router needs to wire routes.
// controller is nil until the orchestrator is constructed; the retry
// and cancel routes report 503 until then.
type Deps struct {
	Auth       *service.AuthService
	Events     *service.EventsService
	Policy     *service.PolicyService
	Embedding  *service.EmbeddingService
	Webhooks   webhookService
	Ingestor   FaultIngestor
	Controller IncidentController

	AllowedOrigins   []string
	AllowCredentials bool
}

// NewRouter wires every handler onto a gin.Engine the way kube-rca-backend
// wires theirs: package-level handler funcs for stateless endpoints,
// constructed handler structs for everything backed by a service.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware(deps.AllowedOrigins, deps.AllowCredentials))

	router.GET("/ping", Ping)
	router.GET("/", Root)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := NewAuthHandler(deps.Auth)
	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/config", authHandler.Config)
	}

	authed := v1.Group("")
	authed.Use(AuthMiddleware(deps.Auth))
	{
		authed.GET("/auth/me", authHandler.Me)

		eventsHandler := NewEventsHandler(deps.Events, deps.Controller)
		authed.GET("/events", eventsHandler.ListEvents)
		authed.GET("/events/:id", eventsHandler.GetEvent)
		authed.POST("/events/:id/retry", eventsHandler.RetryEvent)
		authed.POST("/events/:id/cancel", eventsHandler.CancelEvent)

		admin := authed.Group("")
		admin.Use(RequireRole(recist.RoleAdmin))

		policyHandler := NewPolicyHandler(deps.Policy)
		authed.GET("/policies", policyHandler.ListPolicies)
		authed.GET("/policies/:name", policyHandler.GetPolicy)
		admin.PUT("/policies", policyHandler.UpsertPolicy)
		admin.DELETE("/policies/:name", policyHandler.DeletePolicy)

		embeddingHandler := NewEmbeddingHandler(deps.Embedding)
		authed.POST("/embeddings", embeddingHandler.CreateEmbedding)

		webhookHandler := NewWebhookSettingsHandler(deps.Webhooks)
		authed.GET("/settings/webhooks", webhookHandler.ListWebhookConfigs)
		authed.GET("/settings/webhooks/:id", webhookHandler.GetWebhookConfig)
		admin.POST("/settings/webhooks", webhookHandler.CreateWebhookConfig)
		admin.PUT("/settings/webhooks/:id", webhookHandler.UpdateWebhookConfig)
		admin.DELETE("/settings/webhooks/:id", webhookHandler.DeleteWebhookConfig)

		alertHandler := NewAlertHandler(deps.Ingestor)
		authed.POST("/webhooks/alertmanager", alertHandler.AlertmanagerWebhook)
	}

	return router
}
