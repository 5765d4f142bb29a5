package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"crm-triage/internal/calls"
)

type claimState int

const (
	claimIdle claimState = iota
	claimClaiming
	claimClaimed
)

func (c claimState) String() string {
	switch c {
	case claimClaiming:
		return "claiming"
	case claimClaimed:
		return "claimed"
	default:
		return "idle"
	}
}

// RemoteOutcome tells the popup what a store notification means locally.
type RemoteOutcome int

const (
	RemoteIgnored RemoteOutcome = iota
	RemoteMirrored
	RemoteClaimedElsewhere
)

// ClaimResolver arbitrates a single call between this session's actions and
// updates coming from other sessions. Writes are compare-and-swap on status,
// so the first committed transition wins and every other session backs off.
type ClaimResolver struct {
	store calls.Store

	mu        sync.Mutex
	call      calls.Call
	claim     claimState
	inflight  bool
	dismissed bool
}

func NewClaimResolver(store calls.Store, call calls.Call) *ClaimResolver {
	return &ClaimResolver{store: store, call: call}
}

func (r *ClaimResolver) Snapshot() calls.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.call
}

func (r *ClaimResolver) Dismissed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dismissed
}

// OwnsOngoing reports whether this session claimed the call and it is still live.
func (r *ClaimResolver) OwnsOngoing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.dismissed && r.claim == claimClaimed && r.call.Status == calls.StatusOngoing
}

// Busy reports whether a local write for this call is in flight.
func (r *ClaimResolver) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight || r.claim == claimClaiming
}

// Dismiss marks the popup gone without touching the record.
func (r *ClaimResolver) Dismiss() {
	r.mu.Lock()
	r.dismissed = true
	r.mu.Unlock()
}

// Answer claims the call. A repeated Answer after a successful claim returns
// the claimed record; one issued while a claim is in flight is a no-op.
func (r *ClaimResolver) Answer(ctx context.Context) (calls.Call, error) {
	r.mu.Lock()
	switch {
	case r.dismissed:
		r.mu.Unlock()
		return calls.Call{}, ErrDismissed
	case r.claim == claimClaimed:
		c := r.call
		r.mu.Unlock()
		return c, nil
	case r.claim == claimClaiming:
		c := r.call
		r.mu.Unlock()
		return c, nil
	case r.inflight || r.call.Status != calls.StatusRinging:
		r.mu.Unlock()
		return calls.Call{}, ErrNotRinging
	}
	r.claim = claimClaiming
	id := r.call.ID
	r.mu.Unlock()

	updated, err := r.store.Patch(ctx, id, calls.Patch{
		Status:       calls.Ptr(calls.StatusOngoing),
		ExpectStatus: calls.Ptr(calls.StatusRinging),
	})

	if errors.Is(err, calls.ErrConflict) {
		return calls.Call{}, r.resolveConflict(ctx, id, calls.StatusOngoing, func() { r.claim = claimIdle })
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.claim = claimClaimed
		r.call = updated
		return updated, nil
	}
	r.claim = claimIdle
	return calls.Call{}, fmt.Errorf("answer %s: %w", id, err)
}

func (r *ClaimResolver) Reject(ctx context.Context) (calls.Call, error) {
	return r.finish(ctx, calls.StatusRinging, calls.Patch{
		Status: calls.Ptr(calls.StatusRejected),
	})
}

func (r *ClaimResolver) MarkSpam(ctx context.Context) (calls.Call, error) {
	return r.finish(ctx, calls.StatusRinging, calls.Patch{
		Status:          calls.Ptr(calls.StatusSpam),
		IsProcessed:     calls.Ptr(true),
		ProcessedAction: calls.Ptr(calls.ProcessedMarkedSpam),
	})
}

// EndCall closes a call this session answered.
func (r *ClaimResolver) EndCall(ctx context.Context) (calls.Call, error) {
	r.mu.Lock()
	owned := r.claim == claimClaimed
	r.mu.Unlock()
	if !owned {
		return calls.Call{}, ErrNotOngoing
	}
	return r.finish(ctx, calls.StatusOngoing, calls.Patch{
		Status:          calls.Ptr(calls.StatusAnswered),
		IsProcessed:     calls.Ptr(true),
		ProcessedAction: calls.Ptr(calls.ProcessedCallEnded),
	})
}

// finish performs a terminal transition from `from` and dismisses the popup.
// Repeating an action that already landed returns the record unchanged.
func (r *ClaimResolver) finish(ctx context.Context, from calls.Status, p calls.Patch) (calls.Call, error) {
	want := *p.Status

	r.mu.Lock()
	if r.dismissed {
		c := r.call
		r.mu.Unlock()
		if c.Status == want {
			return c, nil
		}
		return calls.Call{}, ErrDismissed
	}
	if r.inflight || r.claim == claimClaiming || r.call.Status != from {
		r.mu.Unlock()
		if from == calls.StatusOngoing {
			return calls.Call{}, ErrNotOngoing
		}
		return calls.Call{}, ErrNotRinging
	}
	r.inflight = true
	id := r.call.ID
	r.mu.Unlock()

	p.ExpectStatus = calls.Ptr(from)
	updated, err := r.store.Patch(ctx, id, p)
	if errors.Is(err, calls.ErrConflict) {
		return calls.Call{}, r.resolveConflict(ctx, id, want, func() { r.inflight = false })
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight = false
	if err == nil {
		r.call = updated
		r.dismissed = true
		return updated, nil
	}
	return calls.Call{}, fmt.Errorf("%s %s: %w", want, id, err)
}

// resolveConflict re-reads a record after a failed compare-and-swap and adopts
// whatever the store says. The resolver stays busy during the read, so remote
// updates are only mirrored; settle releases that state under r.mu.
func (r *ClaimResolver) resolveConflict(ctx context.Context, id string, want calls.Status, settle func()) error {
	cur, err := r.store.Get(ctx, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	defer settle()
	switch {
	case errors.Is(err, calls.ErrNotFound):
		r.dismissed = true
		return fmt.Errorf("%s %s: %w", want, id, calls.ErrNotFound)
	case err != nil:
		// The write lost a race with someone; without a fresh read assume the
		// most common case, another session claiming it.
		r.dismissed = true
		return ErrClaimedElsewhere
	}
	if cur.UpdatedAt.IsZero() || !cur.UpdatedAt.Before(r.call.UpdatedAt) {
		r.call = cur
	}
	if r.call.Status == calls.StatusOngoing && r.claim != claimClaimed {
		r.dismissed = true
		return ErrClaimedElsewhere
	}
	return fmt.Errorf("%s %s: call is %s: %w", want, id, r.call.Status, calls.ErrConflict)
}

// beginExpiry reserves the record for the missed-call write. Remote updates
// arriving meanwhile are only mirrored.
func (r *ClaimResolver) beginExpiry() (calls.Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dismissed || r.inflight || r.claim != claimIdle || r.call.Status != calls.StatusRinging {
		return calls.Call{}, false
	}
	r.inflight = true
	return r.call, true
}

func (r *ClaimResolver) endExpiry() {
	r.mu.Lock()
	r.inflight = false
	r.mu.Unlock()
}

// HandleRemote folds a store notification into local state. The store is
// authoritative; only notifications older than the local snapshot are dropped.
func (r *ClaimResolver) HandleRemote(c calls.Call) RemoteOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dismissed || c.ID != r.call.ID {
		return RemoteIgnored
	}
	if !c.UpdatedAt.IsZero() && c.UpdatedAt.Before(r.call.UpdatedAt) {
		return RemoteIgnored
	}
	r.call = c

	// Only a claim by someone else closes the popup. Every other status is
	// mirrored and the operator closes the popup.
	busy := r.inflight || r.claim == claimClaiming
	if !busy && c.Status == calls.StatusOngoing && r.claim == claimIdle {
		r.dismissed = true
		return RemoteClaimedElsewhere
	}
	return RemoteMirrored
}
