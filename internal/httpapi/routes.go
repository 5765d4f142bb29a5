package httpapi

import (
	"crm-triage/internal/rbac"

	"github.com/gin-gonic/gin"
)

// RouteOptions toggles endpoints that depend on the environment.
type RouteOptions struct {
	// DevTokens mounts POST /v1/auth/token. Never enable in production.
	DevTokens bool
}

// Register mounts every route. authMW must inject the agent identity.
func (h Handlers) Register(r *gin.Engine, authMW gin.HandlerFunc, opts RouteOptions) {
	r.GET("/healthz", h.Health)

	// Telephony bridge; authenticated by shared secret, not by agent token.
	r.POST("/webhooks/calls", h.IngestCall)

	if opts.DevTokens {
		r.POST("/v1/auth/token", h.IssueToken)
	}

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireAgent())
	{
		triageRoles := rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor)

		sessions := v1.Group("/sessions")
		sessions.Use(triageRoles)
		{
			sessions.POST("", h.OpenSession)
			sessions.GET("/:sid", h.GetSession)
			sessions.DELETE("/:sid", h.CloseSession)
			sessions.GET("/:sid/events", h.StreamEvents)
			sessions.POST("/:sid/visibility", h.SetVisibility)
			sessions.POST("/:sid/focus", h.Focus)

			sessions.POST("/:sid/calls/:id/open", h.OpenCall())
			sessions.POST("/:sid/calls/:id/answer", h.Answer())
			sessions.POST("/:sid/calls/:id/reject", h.Reject())
			sessions.POST("/:sid/calls/:id/spam", h.MarkSpam())
			sessions.POST("/:sid/calls/:id/end", h.EndCall())
			sessions.POST("/:sid/calls/:id/contact", h.RequestContact())
			sessions.POST("/:sid/calls/:id/minimize", h.Minimize())
			sessions.POST("/:sid/calls/:id/restore", h.Restore())
			sessions.POST("/:sid/calls/:id/close", h.ClosePopup())
			sessions.PUT("/:sid/calls/:id/notes", h.EditNotes)
			sessions.POST("/:sid/calls/:id/notes/save", h.SaveNotes)

			sessions.POST("/:sid/leads/:lid/dismiss", h.DismissLead)
			sessions.POST("/:sid/leads/:lid/accept", h.AcceptLead)
		}

		inbox := v1.Group("/inbox")
		inbox.Use(triageRoles)
		{
			inbox.GET("/summary", h.InboxSummary)
			inbox.GET("/pending", h.InboxPending)
		}
		v1.POST("/calls/:id/treated", triageRoles, h.MarkTreated)
	}
}
