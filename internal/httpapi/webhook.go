package httpapi

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"crm-triage/internal/audit"
	"crm-triage/internal/calls"
	"crm-triage/pkg/logger"

	"github.com/gin-gonic/gin"
)

const webhookSecretHeader = "X-Webhook-Secret"

// inboundCall is what the telephony bridge posts when a line starts ringing.
// JSON is the native format; Twilio-style form posts (CallSid, From,
// CallerName) are accepted too.
type inboundCall struct {
	ID           string `json:"id"`
	PhoneNumber  string `json:"phone_number"`
	CustomerName string `json:"customer_name"`
}

func parseInboundCall(c *gin.Context) (inboundCall, error) {
	if strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
		if err := c.Request.ParseForm(); err != nil {
			return inboundCall{}, err
		}
		return inboundCall{
			ID:           strings.TrimSpace(c.PostForm("CallSid")),
			PhoneNumber:  strings.TrimSpace(c.PostForm("From")),
			CustomerName: strings.TrimSpace(c.PostForm("CallerName")),
		}, nil
	}
	var in inboundCall
	if err := c.ShouldBindJSON(&in); err != nil {
		return inboundCall{}, err
	}
	in.ID = strings.TrimSpace(in.ID)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	return in, nil
}

// IngestCall creates a ringing record for a new inbound call. Nothing pushes it
// to sessions; a popup opens when a client calls the open-call route with the
// returned id.
func (h Handlers) IngestCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call store not configured"})
		return
	}
	if h.WebhookSecret != "" {
		got := c.GetHeader(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
	}

	in, err := parseInboundCall(c)
	if err != nil {
		log.Warn("call webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	now := h.now().UTC()
	created, err := h.Calls.Insert(c.Request.Context(), calls.Call{
		ID:           in.ID,
		PhoneNumber:  in.PhoneNumber,
		CustomerName: in.CustomerName,
		Status:       calls.StatusRinging,
		AttemptCount: 1,
		LastAttempt:  now,
		CreatedAt:    now,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	if h.Audit != nil {
		msg := fmt.Sprintf("phone=%s", created.PhoneNumber)
		if err := h.Audit.LogCall(c.Request.Context(), audit.EventTypeCallIngested, audit.SystemActor, "", created.ID, msg); err != nil {
			log.Warn("audit append failed", "call_id", created.ID, "err", err)
		}
	}
	log.Info("call ingested", "call_id", created.ID)
	c.JSON(http.StatusCreated, created)
}
