package triage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crm-triage/internal/calls"
)

func newTestConsolidator(store calls.Store, locker Locker, now time.Time) *Consolidator {
	c := NewConsolidator(store, locker, discardLogger())
	c.SetClock(func() time.Time { return now })
	return c
}

func TestConsolidate_FirstExpiryBecomesMissed(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	store := calls.NewMemoryStore()
	c1 := insertCall(t, store, ringing("c1", "+351 912 345 678"))

	out, err := newTestConsolidator(store, nil, now).Consolidate(context.Background(), c1)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if out.Kind != OutcomeMarkedMissed {
		t.Fatalf("expected marked_missed, got %s", out.Kind)
	}
	got := mustGet(t, store, "c1")
	if got.Status != calls.StatusMissed || got.AttemptCount != 1 || !got.LastAttempt.Equal(now) {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestConsolidate_MergesIntoExistingMissed(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	store := calls.NewMemoryStore()
	insertCall(t, store, calls.Call{ID: "c1", PhoneNumber: "912345678", Status: calls.StatusMissed, AttemptCount: 2})
	c2 := insertCall(t, store, ringing("c2", "+351 912-345-678"))

	out, err := newTestConsolidator(store, nil, now).Consolidate(context.Background(), c2)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if out.Kind != OutcomeMerged || out.MergedID != "c2" || out.Call.ID != "c1" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	head := mustGet(t, store, "c1")
	if head.AttemptCount != 3 || !head.LastAttempt.Equal(now) {
		t.Fatalf("expected attempt 3 at %s, got %+v", now, head)
	}
	if _, err := store.Get(context.Background(), "c2"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected c2 deleted, got %v", err)
	}
}

func TestConsolidate_MergeReopensTreatedRecord(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	store := calls.NewMemoryStore()
	insertCall(t, store, calls.Call{
		ID:              "c1",
		PhoneNumber:     "912345678",
		Status:          calls.StatusMissed,
		AttemptCount:    2,
		IsProcessed:     true,
		ProcessedAction: calls.ProcessedMarkedTreated,
	})
	c2 := insertCall(t, store, ringing("c2", "+351 912 345 678"))

	out, err := newTestConsolidator(store, nil, now).Consolidate(context.Background(), c2)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if out.Kind != OutcomeMerged {
		t.Fatalf("expected merged, got %s", out.Kind)
	}
	head := mustGet(t, store, "c1")
	if head.AttemptCount != 3 {
		t.Fatalf("expected attempt 3, got %d", head.AttemptCount)
	}
	if head.IsProcessed || head.ProcessedAction != calls.ProcessedNone {
		t.Fatalf("expected treated record back in the inbox, got %+v", head)
	}
}

func TestConsolidate_LookupFailureFallsBackToMissed(t *testing.T) {
	store := calls.NewMemoryStore()
	insertCall(t, store, calls.Call{ID: "c1", PhoneNumber: "912345678", Status: calls.StatusMissed})
	c2 := insertCall(t, store, ringing("c2", "912345678"))
	store.Fail = func(op, id string) error {
		if op == "find" {
			return calls.ErrStoreUnavailable
		}
		return nil
	}

	out, err := newTestConsolidator(store, nil, time.Now()).Consolidate(context.Background(), c2)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if out.Kind != OutcomeMarkedMissed {
		t.Fatalf("expected marked_missed, got %s", out.Kind)
	}
	if got := mustGet(t, store, "c2"); got.Status != calls.StatusMissed {
		t.Fatalf("expected c2 missed, got %s", got.Status)
	}
}

func TestConsolidate_AlreadyAnsweredIsLeftAlone(t *testing.T) {
	store := calls.NewMemoryStore()
	c1 := insertCall(t, store, ringing("c1", "912345678"))
	if _, err := store.Patch(context.Background(), "c1", calls.Patch{Status: calls.Ptr(calls.StatusOngoing)}); err != nil {
		t.Fatalf("patch: %v", err)
	}

	out, err := newTestConsolidator(store, nil, time.Now()).Consolidate(context.Background(), c1)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if out.Kind != OutcomeAlreadyHandled || out.Call.Status != calls.StatusOngoing {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestConsolidate_WithoutPhoneNumberMarksMissed(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "unknown"))

	out, err := newTestConsolidator(store, nil, time.Now()).Consolidate(context.Background(), c)
	if err != nil || out.Kind != OutcomeMarkedMissed {
		t.Fatalf("expected marked_missed, got %+v err=%v", out, err)
	}
}

type failingLocker struct{}

func (failingLocker) Lock(ctx context.Context, key string) (func(), error) {
	return nil, ErrLockNotObtained
}

func TestConsolidate_LockFailureStillRecordsMissed(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "912345678"))

	out, err := newTestConsolidator(store, failingLocker{}, time.Now()).Consolidate(context.Background(), c)
	if err != nil || out.Kind != OutcomeMarkedMissed {
		t.Fatalf("expected marked_missed, got %+v err=%v", out, err)
	}
}

func TestConsolidate_DeleteFailureRollsBackAttempt(t *testing.T) {
	store := calls.NewMemoryStore()
	insertCall(t, store, calls.Call{
		ID:              "c1",
		PhoneNumber:     "912345678",
		Status:          calls.StatusMissed,
		AttemptCount:    2,
		IsProcessed:     true,
		ProcessedAction: calls.ProcessedMarkedTreated,
	})
	c2 := insertCall(t, store, ringing("c2", "912345678"))
	store.Fail = func(op, id string) error {
		if op == "delete" {
			return calls.ErrStoreUnavailable
		}
		return nil
	}

	if _, err := newTestConsolidator(store, nil, time.Now()).Consolidate(context.Background(), c2); !errors.Is(err, calls.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if got := mustGet(t, store, "c1"); got.AttemptCount != 2 || !got.IsProcessed || got.ProcessedAction != calls.ProcessedMarkedTreated {
		t.Fatalf("expected head rolled back, got %+v", got)
	}
	if got := mustGet(t, store, "c2"); got.Status != calls.StatusRinging {
		t.Fatalf("expected c2 untouched, got %s", got.Status)
	}
}

func TestConsolidate_ConcurrentExpiriesKeepOneMissedRecord(t *testing.T) {
	store := calls.NewMemoryStore()
	cons := newTestConsolidator(store, NewLocalLocker(), time.Now())

	ids := []string{"c1", "c2", "c3", "c4"}
	var ring []calls.Call
	for _, id := range ids {
		ring = append(ring, insertCall(t, store, ringing(id, "+351 912 345 678")))
	}

	var wg sync.WaitGroup
	for _, c := range ring {
		wg.Add(1)
		go func(c calls.Call) {
			defer wg.Done()
			if _, err := cons.Consolidate(context.Background(), c); err != nil {
				t.Errorf("consolidate %s: %v", c.ID, err)
			}
		}(c)
	}
	wg.Wait()

	list, err := store.ListCalls(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one record left, got %d", len(list))
	}
	if list[0].Status != calls.StatusMissed || list[0].AttemptCount != len(ids) {
		t.Fatalf("expected one missed record with %d attempts, got %+v", len(ids), list[0])
	}
}

func TestConsolidate_SecondSessionSeesAlreadyHandled(t *testing.T) {
	store := calls.NewMemoryStore()
	c := insertCall(t, store, ringing("c1", "912345678"))
	cons := newTestConsolidator(store, nil, time.Now())

	if _, err := cons.Consolidate(context.Background(), c); err != nil {
		t.Fatalf("first: %v", err)
	}
	out, err := cons.Consolidate(context.Background(), c)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if out.Kind != OutcomeAlreadyHandled {
		t.Fatalf("expected already_handled, got %s", out.Kind)
	}
	if got := mustGet(t, store, "c1"); got.AttemptCount != 1 {
		t.Fatalf("attempt must not double count, got %d", got.AttemptCount)
	}
}

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second lock to wait, got %v", err)
	}
	other, err := l.Lock(context.Background(), "other")
	if err != nil {
		t.Fatalf("independent key should lock: %v", err)
	}
	other()

	unlock()
	again, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}
