package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"crm-triage/internal/audit"
	"crm-triage/internal/calls"
)

var (
	ErrInvalidRequest = errors.New("reporting: invalid request")
	// ErrNotPending is returned when a call is not an untreated missed record.
	ErrNotPending = errors.New("reporting: call is not a pending missed call")
)

// Repository is the slice of calls.Store the inbox reads and writes.
type Repository interface {
	Get(ctx context.Context, id string) (calls.Call, error)
	ListCalls(ctx context.Context, from, to time.Time) ([]calls.Call, error)
	Patch(ctx context.Context, id string, p calls.Patch) (calls.Call, error)
}

type Auditor interface {
	LogCall(ctx context.Context, typ audit.EventType, actorID, sessionID, callID, message string) error
}

// Inbox is the operator view over missed calls left behind by triage.
type Inbox struct {
	repo  Repository
	audit Auditor
	log   *slog.Logger
}

func NewInbox(repo Repository, auditor Auditor, log *slog.Logger) *Inbox {
	if log == nil {
		log = slog.Default()
	}
	return &Inbox{repo: repo, audit: auditor, log: log}
}

func validRange(r TimeRange) bool {
	if r.From.IsZero() || r.To.IsZero() {
		return false
	}
	return r.To.After(r.From)
}

func isPending(c calls.Call) bool {
	return c.Status == calls.StatusMissed && !c.IsProcessed
}

func (s *Inbox) Summary(ctx context.Context, r TimeRange) (InboxSummary, error) {
	if !validRange(r) {
		return InboxSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return InboxSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, r.From, r.To)
	if err != nil {
		return InboxSummary{}, err
	}

	out := InboxSummary{Range: r, ByStatus: map[calls.Status]int{}}
	for _, c := range rows {
		out.TotalCalls++
		out.ByStatus[c.Status]++
		if c.ProcessedAction == calls.ProcessedMarkedTreated {
			out.Treated++
		}
		if !isPending(c) {
			continue
		}
		out.Pending++
		out.PendingAttempts += c.Attempts()
		if out.OldestPending.IsZero() || c.CreatedAt.Before(out.OldestPending) {
			out.OldestPending = c.CreatedAt
		}
	}
	return out, nil
}

// Pending lists untreated missed calls, most recent attempt first.
func (s *Inbox) Pending(ctx context.Context, r TimeRange) ([]PendingCall, error) {
	if !validRange(r) {
		return nil, ErrInvalidRequest
	}
	rows, err := s.repo.ListCalls(ctx, r.From, r.To)
	if err != nil {
		return nil, err
	}
	out := make([]PendingCall, 0, len(rows))
	for _, c := range rows {
		if !isPending(c) {
			continue
		}
		last := c.LastAttempt
		if last.IsZero() {
			last = c.CreatedAt
		}
		out = append(out, PendingCall{
			ID:           c.ID,
			PhoneNumber:  c.PhoneNumber,
			CustomerName: c.CustomerName,
			Attempts:     c.Attempts(),
			LastAttempt:  last,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastAttempt.After(out[j].LastAttempt) })
	return out, nil
}

// MarkTreated clears a missed call from the inbox. The write only lands if the
// record is still missed; treating an already treated call is a no-op.
func (s *Inbox) MarkTreated(ctx context.Context, callID, actorID string) (calls.Call, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return calls.Call{}, ErrInvalidRequest
	}

	cur, err := s.repo.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if cur.Status == calls.StatusMissed && cur.ProcessedAction == calls.ProcessedMarkedTreated {
		return cur, nil
	}
	if !isPending(cur) {
		return calls.Call{}, ErrNotPending
	}

	updated, err := s.repo.Patch(ctx, callID, calls.Patch{
		IsProcessed:     calls.Ptr(true),
		ProcessedAction: calls.Ptr(calls.ProcessedMarkedTreated),
		ExpectStatus:    calls.Ptr(calls.StatusMissed),
	})
	if err != nil {
		if errors.Is(err, calls.ErrConflict) {
			return calls.Call{}, ErrNotPending
		}
		return calls.Call{}, fmt.Errorf("reporting: mark treated: %w", err)
	}

	if s.audit != nil {
		msg := fmt.Sprintf("attempts=%d", updated.Attempts())
		if err := s.audit.LogCall(ctx, audit.EventTypeCallTreated, actorID, "", callID, msg); err != nil {
			s.log.Warn("audit append failed", "call_id", callID, "err", err)
		}
	}
	return updated, nil
}
