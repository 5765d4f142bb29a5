package calls

import "time"

// Call is one inbound telephony event as seen by the triage popup.
//
// Records are created by the telephony integration with Status ringing and are
// mutated only by the claim resolver and the missed-call consolidator.
//
// Invariants:
// - at most one record per phone number is ongoing (enforced cooperatively, not by storage)
// - at most one missed record exists per normalized phone number
// - AttemptCount is the number of ring attempts a missed record represents (>= 1)
type Call struct {
	ID           string `json:"id" db:"id"`
	PhoneNumber  string `json:"phone_number,omitempty" db:"phone_number"`
	CustomerName string `json:"customer_name,omitempty" db:"customer_name"`

	Status Status `json:"status" db:"status"`

	AttemptCount int       `json:"attempt_count" db:"attempt_count"`
	LastAttempt  time.Time `json:"last_attempt" db:"last_attempt"`

	// Notes are only writable by triage while Status is ongoing.
	Notes string `json:"notes,omitempty" db:"notes"`

	IsProcessed     bool            `json:"is_processed" db:"is_processed"`
	ProcessedAction ProcessedAction `json:"processed_action,omitempty" db:"processed_action"`

	// Set only by the CRUD layer.
	ContactID string `json:"contact_id,omitempty" db:"contact_id"`
	DealID    string `json:"deal_id,omitempty" db:"deal_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Deleted marks a change notification announcing the record is gone.
	// It is never stored.
	Deleted bool `json:"deleted,omitempty" db:"-"`
}

type Status string

const (
	StatusRinging  Status = "ringing"
	StatusOngoing  Status = "ongoing"
	StatusAnswered Status = "answered"
	StatusRejected Status = "rejected"
	StatusSpam     Status = "spam"
	StatusMissed   Status = "missed"
)

type ProcessedAction string

const (
	ProcessedNone           ProcessedAction = ""
	ProcessedContactCreated ProcessedAction = "contact_created"
	ProcessedDealCreated    ProcessedAction = "deal_created"
	ProcessedMarkedSpam     ProcessedAction = "marked_spam"
	ProcessedCallEnded      ProcessedAction = "call_ended"
	ProcessedMarkedTreated  ProcessedAction = "marked_treated"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusOngoing, StatusAnswered, StatusRejected, StatusSpam, StatusMissed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether triage may move a call from s to next.
//
//	ringing -> ongoing | rejected | spam | missed
//	ongoing -> answered
//
// Everything else is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusRinging:
		return next == StatusOngoing || next == StatusRejected || next == StatusSpam || next == StatusMissed
	case StatusOngoing:
		return next == StatusAnswered
	default:
		return false
	}
}

// Attempts returns the attempt counter with the unset default applied.
func (c Call) Attempts() int {
	if c.AttemptCount < 1 {
		return 1
	}
	return c.AttemptCount
}

// Patch is a partial update. Nil fields are left untouched.
//
// ExpectStatus turns the write into a compare-and-swap: the store applies it only
// if the record's current status equals *ExpectStatus, otherwise ErrConflict.
type Patch struct {
	Status          *Status
	AttemptCount    *int
	LastAttempt     *time.Time
	Notes           *string
	IsProcessed     *bool
	ProcessedAction *ProcessedAction

	ExpectStatus *Status
}

// Apply copies the set fields onto c.
func (p Patch) Apply(c Call) Call {
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.AttemptCount != nil {
		c.AttemptCount = *p.AttemptCount
	}
	if p.LastAttempt != nil {
		c.LastAttempt = *p.LastAttempt
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
	if p.IsProcessed != nil {
		c.IsProcessed = *p.IsProcessed
	}
	if p.ProcessedAction != nil {
		c.ProcessedAction = *p.ProcessedAction
	}
	return c
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T { return &v }
