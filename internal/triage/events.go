package triage

import (
	"time"

	"crm-triage/internal/calls"
	"crm-triage/internal/leads"
)

// EventType names what happened in a session. The first four are the terminal
// events the CRUD layer reacts to; the rest drive popup state in the UI.
type EventType string

const (
	EventCallAnswered     EventType = "call.answered"      // open the live-call view
	EventCallNeedsContact EventType = "call.needs_contact" // open contact creation pre-filled
	EventLeadAccepted     EventType = "lead.accepted"      // open the 360 view pre-filled
	EventLeadDismissed    EventType = "lead.dismissed"

	EventCallOpened           EventType = "call.opened"
	EventCallCountdown        EventType = "call.countdown"
	EventCallUpdated          EventType = "call.updated"
	EventCallClaimedElsewhere EventType = "call.claimed_elsewhere"
	EventCallMissed           EventType = "call.missed"
	EventCallClosed           EventType = "call.closed"
	EventCallActionFailed     EventType = "call.action_failed"
	EventNotesSaved           EventType = "call.notes_saved"

	EventLeadShown        EventType = "lead.shown"
	EventLeadFetchWarning EventType = "lead.fetch_warning"
)

type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`

	CallID    string      `json:"call_id,omitempty"`
	Call      *calls.Call `json:"call,omitempty"`
	Remaining int         `json:"remaining,omitempty"`

	LeadID string      `json:"lead_id,omitempty"`
	Lead   *leads.Lead `json:"lead,omitempty"`

	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Emitter delivers events to the session's consumer. It must not block.
type Emitter func(Event)

func callEvent(t EventType, c calls.Call) Event {
	cp := c
	return Event{Type: t, CallID: c.ID, Call: &cp}
}
