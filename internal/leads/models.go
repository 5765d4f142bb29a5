package leads

import (
	"context"
	"errors"
	"time"
)

// Lead is the display-only projection used for incoming-lead notifications.
// Shown/dismissed state is tracked per session by triage and never written back.
type Lead struct {
	ID      string `json:"id" db:"id"`
	Name    string `json:"name,omitempty" db:"name"`
	Email   string `json:"email,omitempty" db:"email"`
	Phone   string `json:"phone,omitempty" db:"phone"`
	Company string `json:"company,omitempty" db:"company"`
	Message string `json:"message,omitempty" db:"message"`

	Source Source `json:"source,omitempty" db:"source"`
	Status Status `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Source string

type Status string

const (
	// StatusNew is the only status the notification poller surfaces.
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusConverted Status = "converted"
	StatusDiscarded Status = "discarded"
)

var ErrSourceUnavailable = errors.New("leads: source unavailable")

// Fetcher returns the single most recent lead that has not been triaged yet.
// (Lead{}, false, nil) means there is nothing to show.
type Fetcher interface {
	FetchLatestIncoming(ctx context.Context) (Lead, bool, error)
}
