package audit

import "time"

// Event is an immutable, append-only record of a triage decision.
//
// Invariants:
// - Events are never updated or deleted.
// - Type is required; ActorID falls back to "system" for timer-driven outcomes.
// - Audit is best-effort: callers log failures and carry on.
//
// Storage (Postgres): table triage_audit_events, INSERT-only.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	ActorID   string `json:"actor_id" db:"actor_id"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`
	SessionID string `json:"session_id,omitempty" db:"session_id"`

	CallID string `json:"call_id,omitempty" db:"call_id"`
	LeadID string `json:"lead_id,omitempty" db:"lead_id"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallAnswered  EventType = "call_answered"
	EventTypeCallRejected  EventType = "call_rejected"
	EventTypeCallSpam      EventType = "call_spam"
	EventTypeCallEnded     EventType = "call_ended"
	EventTypeCallMissed    EventType = "call_missed"
	EventTypeCallMerged    EventType = "call_merged"
	EventTypeClaimLost     EventType = "call_claim_lost"
	EventTypeCallTreated   EventType = "call_treated"
	EventTypeCallIngested  EventType = "call_ingested"
	EventTypeLeadAccepted  EventType = "lead_accepted"
	EventTypeLeadDismissed EventType = "lead_dismissed"
)

const SystemActor = "system"
