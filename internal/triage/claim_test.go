package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-triage/internal/calls"
)

func ringing(id, phone string) calls.Call {
	return calls.Call{ID: id, PhoneNumber: phone, Status: calls.StatusRinging}
}

func TestClaimResolver_AnswerClaimsAndIsIdempotent(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "+351 912 345 678"))
	r := NewClaimResolver(store, c)

	got, err := r.Answer(context.Background())
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got.Status != calls.StatusOngoing {
		t.Fatalf("expected ongoing, got %s", got.Status)
	}
	if !r.OwnsOngoing() {
		t.Fatalf("expected resolver to own the call")
	}

	again, err := r.Answer(context.Background())
	if err != nil || again.Status != calls.StatusOngoing {
		t.Fatalf("repeat answer should be a no-op, got %+v err=%v", again, err)
	}
}

func TestClaimResolver_SecondAnswerLosesRace(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "912345678"))
	a := NewClaimResolver(store, c)
	b := NewClaimResolver(store, c)

	if _, err := a.Answer(context.Background()); err != nil {
		t.Fatalf("a answer: %v", err)
	}
	_, err := b.Answer(context.Background())
	if !errors.Is(err, ErrClaimedElsewhere) {
		t.Fatalf("expected ErrClaimedElsewhere, got %v", err)
	}
	if !b.Dismissed() {
		t.Fatalf("loser must dismiss")
	}
	if b.OwnsOngoing() {
		t.Fatalf("loser must not own the call")
	}
}

func TestClaimResolver_RemoteOngoingWhileIdleDismisses(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "912345678"))
	r := NewClaimResolver(store, c)

	remote := c
	remote.Status = calls.StatusOngoing
	remote.UpdatedAt = c.UpdatedAt.Add(time.Second)
	if got := r.HandleRemote(remote); got != RemoteClaimedElsewhere {
		t.Fatalf("expected RemoteClaimedElsewhere, got %v", got)
	}
	if _, err := r.Answer(context.Background()); !errors.Is(err, ErrDismissed) {
		t.Fatalf("expected ErrDismissed after remote claim, got %v", err)
	}
}

func TestClaimResolver_IgnoresStaleRemoteUpdate(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "912345678"))
	r := NewClaimResolver(store, c)
	if _, err := r.Answer(context.Background()); err != nil {
		t.Fatalf("answer: %v", err)
	}

	stale := c
	stale.UpdatedAt = c.UpdatedAt.Add(-time.Minute)
	if got := r.HandleRemote(stale); got != RemoteIgnored {
		t.Fatalf("expected stale update ignored, got %v", got)
	}
	if r.Snapshot().Status != calls.StatusOngoing {
		t.Fatalf("stale update must not revert local state")
	}
}

func TestClaimResolver_RemoteTerminalIsMirrored(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "912345678"))
	r := NewClaimResolver(store, c)

	for _, st := range []calls.Status{calls.StatusRejected, calls.StatusSpam, calls.StatusMissed} {
		remote := c
		remote.Status = st
		if got := r.HandleRemote(remote); got != RemoteMirrored {
			t.Fatalf("%s: expected RemoteMirrored, got %v", st, got)
		}
		if r.Dismissed() {
			t.Fatalf("%s: remote status must not dismiss the popup", st)
		}
		if r.Snapshot().Status != st {
			t.Fatalf("expected local status %s, got %s", st, r.Snapshot().Status)
		}
	}
	if _, err := r.Answer(context.Background()); !errors.Is(err, ErrNotRinging) {
		t.Fatalf("expected ErrNotRinging on a mirrored missed call, got %v", err)
	}
}

func TestClaimResolver_ConflictReadsOutsideLock(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "912345678"))
	r := NewClaimResolver(store, c)
	if _, err := store.Patch(context.Background(), "c1", calls.Patch{Status: calls.Ptr(calls.StatusRejected)}); err != nil {
		t.Fatalf("seed reject: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	store.Fail = func(op, id string) error {
		if op == "get" {
			close(entered)
			<-release
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.MarkSpam(context.Background())
		done <- err
	}()
	<-entered

	snap := make(chan calls.Call, 1)
	go func() { snap <- r.Snapshot() }()
	select {
	case <-snap:
	case <-time.After(time.Second):
		t.Fatalf("Snapshot blocked while the conflict re-read was in flight")
	}
	close(release)

	if err := <-done; !errors.Is(err, calls.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if r.Dismissed() || r.Busy() {
		t.Fatalf("expected popup kept and idle after conflict")
	}
	if got := r.Snapshot().Status; got != calls.StatusRejected {
		t.Fatalf("expected rejected mirrored, got %s", got)
	}
}

func TestClaimResolver_RejectIsIdempotent(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "912345678"))
	r := NewClaimResolver(store, c)

	first, err := r.Reject(context.Background())
	if err != nil || first.Status != calls.StatusRejected {
		t.Fatalf("reject: %+v err=%v", first, err)
	}
	second, err := r.Reject(context.Background())
	if err != nil || second.Status != calls.StatusRejected {
		t.Fatalf("repeat reject should be a no-op: %+v err=%v", second, err)
	}
	if _, err := r.MarkSpam(context.Background()); !errors.Is(err, ErrDismissed) {
		t.Fatalf("expected ErrDismissed for a different action, got %v", err)
	}
}

func TestClaimResolver_MarkSpamProcessesRecord(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "912345678"))
	r := NewClaimResolver(store, c)

	if _, err := r.MarkSpam(context.Background()); err != nil {
		t.Fatalf("spam: %v", err)
	}
	got := mustGet(t, store, "c1")
	if got.Status != calls.StatusSpam || !got.IsProcessed || got.ProcessedAction != calls.ProcessedMarkedSpam {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestClaimResolver_EndCallRequiresClaim(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "912345678"))
	r := NewClaimResolver(store, c)

	if _, err := r.EndCall(context.Background()); !errors.Is(err, ErrNotOngoing) {
		t.Fatalf("expected ErrNotOngoing, got %v", err)
	}
	if _, err := r.Answer(context.Background()); err != nil {
		t.Fatalf("answer: %v", err)
	}
	ended, err := r.EndCall(context.Background())
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != calls.StatusAnswered || ended.ProcessedAction != calls.ProcessedCallEnded || !ended.IsProcessed {
		t.Fatalf("unexpected ended record: %+v", ended)
	}
}

func TestClaimResolver_StoreFailureLeavesCallRinging(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "912345678"))
	r := NewClaimResolver(store, c)

	store.Fail = func(op, id string) error {
		if op == "patch" {
			return calls.ErrStoreUnavailable
		}
		return nil
	}
	_, err := r.Answer(context.Background())
	if !errors.Is(err, calls.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if r.Dismissed() || r.Busy() {
		t.Fatalf("a failed write must leave the popup usable")
	}

	store.Fail = nil
	if _, err := r.Answer(context.Background()); err != nil {
		t.Fatalf("retry answer: %v", err)
	}
}
