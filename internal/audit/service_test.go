package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{ActorID: "agent-1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_DefaultsActorToSystem(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogCall(context.Background(), EventTypeCallMissed, "", "", "c1", "ring window elapsed"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ActorID != SystemActor {
		t.Fatalf("expected system actor, got %q", evs[0].ActorID)
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be filled")
	}
}

func TestService_LogLead(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogLead(context.Background(), EventTypeLeadDismissed, "agent-1", "s1", "L1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	evs := repo.Events()
	if len(evs) != 1 || evs[0].LeadID != "L1" || evs[0].SessionID != "s1" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestMemoryRepo_FiltersByCallAndLead(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_ = svc.LogCall(ctx, EventTypeCallAnswered, "agent-1", "s1", "c1", "")
	_ = svc.LogCall(ctx, EventTypeCallEnded, "agent-1", "s1", "c1", "")
	_ = svc.LogCall(ctx, EventTypeCallMissed, "", "", "c2", "")
	_ = svc.LogLead(ctx, EventTypeLeadAccepted, "agent-1", "s1", "L1")

	if got := repo.ForCall("", "c1"); len(got) != 2 {
		t.Fatalf("expected 2 events for c1, got %d", len(got))
	}
	if got := repo.ForCall(EventTypeCallEnded, "c1"); len(got) != 1 {
		t.Fatalf("expected 1 ended event for c1, got %d", len(got))
	}
	if got := repo.ForLead(EventTypeLeadAccepted, "L1"); len(got) != 1 {
		t.Fatalf("expected lead event, got %+v", got)
	}
	if got := repo.ForLead(EventTypeLeadDismissed, "L1"); len(got) != 0 {
		t.Fatalf("expected no dismissals, got %+v", got)
	}
}
