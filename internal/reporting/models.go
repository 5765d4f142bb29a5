package reporting

import (
	"time"

	"crm-triage/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// InboxSummary aggregates call records over a time range.
//
// Pending counts missed records nobody has treated yet; PendingAttempts sums
// their consolidated attempt counters, so one customer ringing five times is
// one pending record with five attempts.
type InboxSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls int `json:"total_calls"`

	Pending         int `json:"pending"`
	PendingAttempts int `json:"pending_attempts"`
	Treated         int `json:"treated"`

	ByStatus map[calls.Status]int `json:"by_status"`

	// OldestPending is zero when nothing is pending.
	OldestPending time.Time `json:"oldest_pending,omitempty"`
}

// PendingCall is one line of the missed-calls inbox.
type PendingCall struct {
	ID           string    `json:"id"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	CustomerName string    `json:"customer_name,omitempty"`
	Attempts     int       `json:"attempts"`
	LastAttempt  time.Time `json:"last_attempt"`
}
