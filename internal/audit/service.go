package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ActorID == "" {
		e.ActorID = SystemActor
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogCall records a decision taken on a call from a triage session.
func (s *Service) LogCall(ctx context.Context, typ EventType, actorID, sessionID, callID, message string) error {
	return s.Append(ctx, Event{
		Type:      typ,
		ActorID:   actorID,
		SessionID: sessionID,
		CallID:    callID,
		Message:   message,
	})
}

// LogLead records what an agent did with a lead notification.
func (s *Service) LogLead(ctx context.Context, typ EventType, actorID, sessionID, leadID string) error {
	return s.Append(ctx, Event{
		Type:      typ,
		ActorID:   actorID,
		SessionID: sessionID,
		LeadID:    leadID,
	})
}
