package main

import (
	"crm-triage/internal/auth"
	"crm-triage/internal/config"
	"crm-triage/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app, cfg config.Config, authMW gin.HandlerFunc, authManager *auth.Manager) {
	h := httpapi.Handlers{
		Auth:          authManager,
		Triage:        a.triage,
		Inbox:         a.inbox,
		Calls:         a.store,
		Audit:         a.audit,
		WebhookSecret: cfg.Webhook.CallsSecret,
		Ready:         a.ready,
	}
	h.Register(r, authMW, httpapi.RouteOptions{
		DevTokens: !cfg.IsProduction(),
	})
}
