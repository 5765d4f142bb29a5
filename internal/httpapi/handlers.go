package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"crm-triage/internal/audit"
	"crm-triage/internal/auth"
	"crm-triage/internal/calls"
	"crm-triage/internal/leads"
	"crm-triage/internal/reporting"
	"crm-triage/internal/triage"
	"crm-triage/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth   *auth.Manager
	Triage *triage.Service
	Inbox  *reporting.Inbox
	Calls  calls.Store
	Audit  *audit.Service

	// WebhookSecret guards call ingest. Empty disables the check (local only).
	WebhookSecret string
	// Heartbeat is the idle interval between SSE keep-alive comments.
	Heartbeat time.Duration
	// Ready reports whether backing stores answer. nil means always ready.
	Ready func(ctx context.Context) error
	Now   func() time.Time
}

// Health answers 200 while the backing stores respond and 503 otherwise.
func (h Handlers) Health(c *gin.Context) {
	if h.Ready != nil {
		if err := h.Ready(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("health check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Auth ---

type issueTokenRequest struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}

// IssueToken mints an access token without checking credentials. Only mounted
// outside production; real agents get tokens from the CRM login.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id, role required"})
		return
	}
	tok, err := h.Auth.Issue(h.now(), req.AgentID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// abortWithError maps domain errors onto status codes.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, triage.ErrSessionNotFound),
		errors.Is(err, triage.ErrPopupNotFound),
		errors.Is(err, calls.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, triage.ErrSessionClosed):
		status = http.StatusGone
	case errors.Is(err, triage.ErrTooManySessions):
		status = http.StatusTooManyRequests
	case errors.Is(err, triage.ErrInvalidArgument),
		errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, triage.ErrDismissed),
		errors.Is(err, triage.ErrNotRinging),
		errors.Is(err, triage.ErrNotOngoing),
		errors.Is(err, triage.ErrRingWindowClosed),
		errors.Is(err, triage.ErrClaimedElsewhere),
		errors.Is(err, triage.ErrAlreadyHandled),
		errors.Is(err, triage.ErrLeadNotShown),
		errors.Is(err, calls.ErrConflict),
		errors.Is(err, reporting.ErrNotPending):
		status = http.StatusConflict
	case errors.Is(err, calls.ErrStoreUnavailable),
		errors.Is(err, leads.ErrSourceUnavailable),
		errors.Is(err, triage.ErrLockNotObtained):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
