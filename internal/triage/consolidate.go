package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crm-triage/internal/calls"
)

type OutcomeKind string

const (
	OutcomeMarkedMissed   OutcomeKind = "marked_missed"
	OutcomeMerged         OutcomeKind = "merged"
	OutcomeAlreadyHandled OutcomeKind = "already_handled"
)

// Outcome describes what consolidation did. Call is the missed record that now
// represents the caller; MergedID is the ringing record that was folded into it.
type Outcome struct {
	Kind     OutcomeKind
	Call     calls.Call
	MergedID string
}

// Consolidator turns an expired ringing call into exactly one missed record per
// caller, bumping the attempt counter of the existing one when there is one.
type Consolidator struct {
	store  calls.Store
	locker Locker
	clock  func() time.Time
	log    *slog.Logger
}

func NewConsolidator(store calls.Store, locker Locker, log *slog.Logger) *Consolidator {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consolidator{store: store, locker: locker, clock: time.Now, log: log}
}

// SetClock overrides the time source used for last_attempt.
func (c *Consolidator) SetClock(clock func() time.Time) { c.clock = clock }

// Consolidate handles the expiry of call. It is safe to run concurrently from
// several sessions for the same record: only the first one changes anything.
func (c *Consolidator) Consolidate(ctx context.Context, call calls.Call) (Outcome, error) {
	key := calls.NormalizePhone(call.PhoneNumber)
	log := c.log.With(slog.String("call_id", call.ID), slog.String("phone_key", key))

	if key == "" {
		return c.markMissed(ctx, call.ID)
	}

	unlock, err := c.locker.Lock(ctx, key)
	if err != nil {
		// Losing the lock must not lose the event; a duplicate missed row is the
		// lesser harm.
		log.Warn("consolidation lock unavailable, marking missed", slog.Any("err", err))
		return c.markMissed(ctx, call.ID)
	}
	defer unlock()

	cur, err := c.store.Get(ctx, call.ID)
	switch {
	case errors.Is(err, calls.ErrNotFound):
		return Outcome{Kind: OutcomeAlreadyHandled}, nil
	case err != nil:
		log.Warn("re-read before consolidation failed", slog.Any("err", err))
	case cur.Status != calls.StatusRinging:
		return Outcome{Kind: OutcomeAlreadyHandled, Call: cur}, nil
	}

	head, found, err := c.store.FindLatestMissed(ctx, key, call.ID)
	if err != nil {
		log.Warn("missed lookup failed, marking missed", slog.Any("err", err))
		return c.markMissed(ctx, call.ID)
	}
	if !found {
		return c.markMissed(ctx, call.ID)
	}

	prev := head.Attempts()
	now := c.clock().UTC()
	// A new attempt puts a treated record back into the inbox.
	merged, err := c.store.Patch(ctx, head.ID, calls.Patch{
		AttemptCount:    calls.Ptr(prev + 1),
		LastAttempt:     calls.Ptr(now),
		IsProcessed:     calls.Ptr(false),
		ProcessedAction: calls.Ptr(calls.ProcessedNone),
		ExpectStatus:    calls.Ptr(calls.StatusMissed),
	})
	if err != nil {
		log.Warn("attempt increment failed, marking missed", slog.String("head_id", head.ID), slog.Any("err", err))
		return c.markMissed(ctx, call.ID)
	}

	if err := c.store.Delete(ctx, call.ID); err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			return Outcome{Kind: OutcomeMerged, Call: merged, MergedID: call.ID}, nil
		}
		// Undo the increment so a retry does not count this attempt twice.
		if _, rerr := c.store.Patch(ctx, head.ID, calls.Patch{
			AttemptCount:    calls.Ptr(prev),
			LastAttempt:     calls.Ptr(head.LastAttempt),
			IsProcessed:     calls.Ptr(head.IsProcessed),
			ProcessedAction: calls.Ptr(head.ProcessedAction),
			ExpectStatus:    calls.Ptr(calls.StatusMissed),
		}); rerr != nil {
			log.Error("attempt rollback failed", slog.String("head_id", head.ID), slog.Any("err", rerr))
		}
		return Outcome{}, fmt.Errorf("delete merged call %s: %w", call.ID, err)
	}

	log.Info("missed call merged", slog.String("head_id", head.ID), slog.Int("attempt_count", merged.AttemptCount))
	return Outcome{Kind: OutcomeMerged, Call: merged, MergedID: call.ID}, nil
}

func (c *Consolidator) markMissed(ctx context.Context, id string) (Outcome, error) {
	updated, err := c.store.Patch(ctx, id, calls.Patch{
		Status:       calls.Ptr(calls.StatusMissed),
		LastAttempt:  calls.Ptr(c.clock().UTC()),
		ExpectStatus: calls.Ptr(calls.StatusRinging),
	})
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeMarkedMissed, Call: updated}, nil
	case errors.Is(err, calls.ErrNotFound):
		return Outcome{Kind: OutcomeAlreadyHandled}, nil
	case errors.Is(err, calls.ErrConflict):
		cur, _ := c.store.Get(ctx, id)
		return Outcome{Kind: OutcomeAlreadyHandled, Call: cur}, nil
	}
	return Outcome{}, fmt.Errorf("mark missed %s: %w", id, err)
}
