package httpapi

import (
	"net/http"
	"time"

	"crm-triage/internal/auth"
	"crm-triage/internal/reporting"

	"github.com/gin-gonic/gin"
)

const defaultInboxWindow = 24 * time.Hour

// inboxRange reads ?from=&to= as RFC 3339. Missing bounds mean the last day.
func (h Handlers) inboxRange(c *gin.Context) (reporting.TimeRange, bool) {
	to := h.now().UTC()
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return reporting.TimeRange{}, false
		}
		to = t
	}
	from := to.Add(-defaultInboxWindow)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return reporting.TimeRange{}, false
		}
		from = t
	}
	return reporting.TimeRange{From: from, To: to}, true
}

func (h Handlers) InboxSummary(c *gin.Context) {
	if h.Inbox == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbox not configured"})
		return
	}
	r, ok := h.inboxRange(c)
	if !ok {
		return
	}
	out, err := h.Inbox.Summary(c.Request.Context(), r)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) InboxPending(c *gin.Context) {
	if h.Inbox == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbox not configured"})
		return
	}
	r, ok := h.inboxRange(c)
	if !ok {
		return
	}
	out, err := h.Inbox.Pending(c.Request.Context(), r)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func (h Handlers) MarkTreated(c *gin.Context) {
	if h.Inbox == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbox not configured"})
		return
	}
	agentID, _ := auth.AgentID(c.Request.Context())
	out, err := h.Inbox.MarkTreated(c.Request.Context(), c.Param("id"), agentID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
