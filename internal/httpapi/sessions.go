package httpapi

import (
	"io"
	"net/http"
	"time"

	"crm-triage/internal/auth"
	"crm-triage/internal/calls"
	"crm-triage/internal/rbac"
	"crm-triage/internal/triage"

	"github.com/gin-gonic/gin"
)

const defaultHeartbeat = 15 * time.Second

type openSessionRequest struct {
	// Visible defaults to true: a page opening a session is in front.
	Visible *bool `json:"visible,omitempty"`
}

type sessionResponse struct {
	SessionID string       `json:"session_id"`
	AgentID   string       `json:"agent_id"`
	OpenCalls []calls.Call `json:"open_calls"`
	Lead      any          `json:"lead,omitempty"`
}

func (h Handlers) OpenSession(c *gin.Context) {
	agentID, err := auth.AgentID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent_id required"})
		return
	}
	var req openSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	visible := true
	if req.Visible != nil {
		visible = *req.Visible
	}

	sess, err := h.Triage.Open(c.Request.Context(), agentID, visible)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse{SessionID: sess.ID(), AgentID: sess.AgentID(), OpenCalls: []calls.Call{}})
}

// session resolves :sid and checks the caller owns it. Foreign sessions are
// reported as missing; admins may reach any session.
func (h Handlers) session(c *gin.Context) (*triage.Session, bool) {
	sess, err := h.Triage.Get(c.Param("sid"))
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	agentID, _ := auth.AgentID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	if sess.AgentID() != agentID && !rbac.IsAdmin(role) {
		abortWithError(c, triage.ErrSessionNotFound)
		return nil, false
	}
	return sess, true
}

func (h Handlers) GetSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	out := sessionResponse{SessionID: sess.ID(), AgentID: sess.AgentID(), OpenCalls: sess.OpenCalls()}
	if d := sess.Leads(); d != nil {
		if l, shown := d.Current(); shown {
			out.Lead = l
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CloseSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.Close(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// StreamEvents relays session events as server-sent events until the client
// goes away or the session closes.
func (h Handlers) StreamEvents(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	every := h.Heartbeat
	if every <= 0 {
		every = defaultHeartbeat
	}
	heartbeat := time.NewTicker(every)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	// Commit headers now so clients see the stream open before the first event.
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-sess.Done():
			c.SSEvent("session.closed", gin.H{"session_id": sess.ID()})
			return false
		case ev := <-sess.Events():
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": h.now().UTC()})
			return true
		}
	})
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

func (h Handlers) SetVisibility(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := sess.SetVisible(c.Request.Context(), req.Visible); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) Focus(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.Refocus(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Calls ---

// callAction adapts a session operation that returns the updated record.
func (h Handlers) callAction(op func(s *triage.Session, c *gin.Context, callID string) (calls.Call, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := h.session(c)
		if !ok {
			return
		}
		out, err := op(sess, c, c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h Handlers) OpenCall() gin.HandlerFunc {
	return h.callAction(func(s *triage.Session, c *gin.Context, id string) (calls.Call, error) {
		return s.OpenCall(c.Request.Context(), id)
	})
}

func (h Handlers) Answer() gin.HandlerFunc {
	return h.callAction(func(s *triage.Session, c *gin.Context, id string) (calls.Call, error) {
		return s.Answer(c.Request.Context(), id)
	})
}

func (h Handlers) Reject() gin.HandlerFunc {
	return h.callAction(func(s *triage.Session, c *gin.Context, id string) (calls.Call, error) {
		return s.Reject(c.Request.Context(), id)
	})
}

func (h Handlers) MarkSpam() gin.HandlerFunc {
	return h.callAction(func(s *triage.Session, c *gin.Context, id string) (calls.Call, error) {
		return s.MarkSpam(c.Request.Context(), id)
	})
}

func (h Handlers) EndCall() gin.HandlerFunc {
	return h.callAction(func(s *triage.Session, c *gin.Context, id string) (calls.Call, error) {
		return s.EndCall(c.Request.Context(), id)
	})
}

func (h Handlers) RequestContact() gin.HandlerFunc {
	return h.callAction(func(s *triage.Session, c *gin.Context, id string) (calls.Call, error) {
		return s.RequestContact(id)
	})
}

// popupAction adapts a session operation with no result body.
func (h Handlers) popupAction(op func(s *triage.Session, c *gin.Context, callID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := h.session(c)
		if !ok {
			return
		}
		if err := op(sess, c, c.Param("id")); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (h Handlers) Minimize() gin.HandlerFunc {
	return h.popupAction(func(s *triage.Session, c *gin.Context, id string) error { return s.Minimize(id) })
}

func (h Handlers) Restore() gin.HandlerFunc {
	return h.popupAction(func(s *triage.Session, c *gin.Context, id string) error { return s.Restore(id) })
}

func (h Handlers) ClosePopup() gin.HandlerFunc {
	return h.popupAction(func(s *triage.Session, c *gin.Context, id string) error {
		return s.ClosePopup(c.Request.Context(), id)
	})
}

type notesRequest struct {
	Notes string `json:"notes"`
}

// EditNotes feeds the autosave debounce. 202: the write happens later.
func (h Handlers) EditNotes(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := sess.EditNotes(c.Request.Context(), c.Param("id"), req.Notes); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h Handlers) SaveNotes(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := sess.SaveNotes(c.Request.Context(), c.Param("id"), req.Notes); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Leads ---

func (h Handlers) DismissLead(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.DismissLead(c.Request.Context(), c.Param("lid")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) AcceptLead(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	l, err := sess.AcceptLead(c.Request.Context(), c.Param("lid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}
