package triage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"crm-triage/internal/calls"
)

func ongoingCall(t *testing.T, store *calls.MemoryStore, id string) {
	t.Helper()
	insertCall(t, store, calls.Call{ID: id, PhoneNumber: "912345678", Status: calls.StatusOngoing})
}

func startNotes(t *testing.T, store calls.Store, id string, after *manualAfter, active func() bool) (*NotesAutosave, context.CancelFunc) {
	t.Helper()
	n := NewNotesAutosave(id, store, 2*time.Second, after.After, active, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	t.Cleanup(cancel)
	return n, cancel
}

func TestNotesAutosave_RapidEditsProduceOneWrite(t *testing.T) {
	store := calls.NewMemoryStore()
	ongoingCall(t, store, "c1")
	patches := countPatches(store)
	after := newManualAfter()
	n, _ := startNotes(t, store, "c1", after, func() bool { return true })

	var last chan time.Time
	for _, text := range []string{"h", "he", "hel", "hell", "hello"} {
		if !n.Edit(context.Background(), text) {
			t.Fatalf("edit %q rejected", text)
		}
		last = after.next(t)
	}
	if patches.get("c1") != 0 {
		t.Fatalf("no write expected before the quiet period")
	}

	last <- time.Now()
	waitFor(t, "debounced write", func() bool { return patches.get("c1") == 1 })
	if got := mustGet(t, store, "c1"); got.Notes != "hello" {
		t.Fatalf("expected final content, got %q", got.Notes)
	}
	time.Sleep(20 * time.Millisecond)
	if patches.get("c1") != 1 {
		t.Fatalf("expected exactly one write, got %d", patches.get("c1"))
	}
}

func TestNotesAutosave_ManualSaveBypassesDebounce(t *testing.T) {
	store := calls.NewMemoryStore()
	ongoingCall(t, store, "c1")
	patches := countPatches(store)
	after := newManualAfter()
	n, _ := startNotes(t, store, "c1", after, func() bool { return true })

	n.Edit(context.Background(), "draft")
	pending := after.next(t)

	if err := n.SaveNow(context.Background(), "final"); err != nil {
		t.Fatalf("save now: %v", err)
	}
	if got := mustGet(t, store, "c1"); got.Notes != "final" {
		t.Fatalf("expected immediate write, got %q", got.Notes)
	}

	// The cancelled debounce must not write again.
	pending <- time.Now()
	time.Sleep(20 * time.Millisecond)
	if patches.get("c1") != 1 {
		t.Fatalf("expected one write, got %d", patches.get("c1"))
	}
}

func TestNotesAutosave_IgnoresEditsWhenNotOngoing(t *testing.T) {
	store := calls.NewMemoryStore()
	insertCall(t, store, ringing("c1", "912345678"))
	after := newManualAfter()
	var active atomic.Bool
	n, _ := startNotes(t, store, "c1", after, active.Load)

	if n.Edit(context.Background(), "nope") {
		t.Fatalf("edit on a non-ongoing call must be ignored")
	}
	if err := n.SaveNow(context.Background(), "nope"); !errors.Is(err, ErrNotOngoing) {
		t.Fatalf("expected ErrNotOngoing, got %v", err)
	}
}

func TestNotesAutosave_WriteAfterCallEndedIsDropped(t *testing.T) {
	store := calls.NewMemoryStore()
	insertCall(t, store, calls.Call{ID: "c1", PhoneNumber: "912345678", Status: calls.StatusAnswered})
	after := newManualAfter()
	n, _ := startNotes(t, store, "c1", after, func() bool { return true })

	if err := n.SaveNow(context.Background(), "late"); !errors.Is(err, ErrNotOngoing) {
		t.Fatalf("expected ErrNotOngoing, got %v", err)
	}
	if got := mustGet(t, store, "c1"); got.Notes != "" {
		t.Fatalf("notes must not be written to a closed call, got %q", got.Notes)
	}
}

func TestNotesAutosave_FlushWritesPending(t *testing.T) {
	store := calls.NewMemoryStore()
	ongoingCall(t, store, "c1")
	after := newManualAfter()
	n, _ := startNotes(t, store, "c1", after, func() bool { return true })

	n.Edit(context.Background(), "pending text")
	after.next(t)
	if err := n.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := mustGet(t, store, "c1"); got.Notes != "pending text" {
		t.Fatalf("expected flushed notes, got %q", got.Notes)
	}
}
