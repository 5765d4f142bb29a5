package triage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crm-triage/internal/audit"
	"crm-triage/internal/calls"
)

// Popup is one open call notification inside a session: its countdown, its
// claim state, its notes autosave and its store subscription.
type Popup struct {
	id        string
	sessionID string
	agentID   string

	store        calls.Store
	consolidator *Consolidator
	audit        Auditor
	emit         Emitter
	log          *slog.Logger
	opts         Options

	resolver *ClaimResolver
	timer    *RingTimer
	notes    *NotesAutosave

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	minimized bool

	closeOnce sync.Once
	onClose   func(id string, remember bool)
	closed    chan struct{}
}

type popupDeps struct {
	sessionID    string
	agentID      string
	store        calls.Store
	consolidator *Consolidator
	audit        Auditor
	emit         Emitter
	log          *slog.Logger
	opts         Options
	onClose      func(id string, remember bool)
}

func openPopup(parent context.Context, d popupDeps, call calls.Call) *Popup {
	ctx, cancel := context.WithCancel(parent)
	p := &Popup{
		id:           call.ID,
		sessionID:    d.sessionID,
		agentID:      d.agentID,
		store:        d.store,
		consolidator: d.consolidator,
		audit:        d.audit,
		emit:         d.emit,
		log:          d.log.With(slog.String("call_id", call.ID)),
		opts:         d.opts,
		resolver:     NewClaimResolver(d.store, call),
		timer:        NewRingTimer(d.opts.RingUnits, d.opts.Tick, d.opts.NewTicker),
		ctx:          ctx,
		cancel:       cancel,
		onClose:      d.onClose,
		closed:       make(chan struct{}),
	}
	p.notes = NewNotesAutosave(call.ID, d.store, d.opts.NotesDebounce, d.opts.After, p.resolver.OwnsOngoing, p.log)
	p.notes.OnSaved(func(c calls.Call) {
		p.resolver.HandleRemote(c)
		p.emit(callEvent(EventNotesSaved, c))
	})

	go p.notes.Run(ctx)
	go p.watch(ctx)

	p.emit(callEvent(EventCallOpened, call))
	if call.Status == calls.StatusRinging {
		p.timer.Start(ctx, p.onTick, p.onExpire)
	} else {
		p.timer.Stop()
	}
	return p
}

func (p *Popup) ID() string               { return p.id }
func (p *Popup) Snapshot() calls.Call     { return p.resolver.Snapshot() }
func (p *Popup) Remaining() int           { return p.timer.Remaining() }
func (p *Popup) Closed() <-chan struct{}  { return p.closed }
func (p *Popup) Timer() *RingTimer        { return p.timer }
func (p *Popup) Resolver() *ClaimResolver { return p.resolver }

func (p *Popup) Minimized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minimized
}

func (p *Popup) onTick(remaining int) {
	p.emit(Event{Type: EventCallCountdown, CallID: p.id, Remaining: remaining})
}

// onExpire runs on the timer goroutine once the ring window elapses.
func (p *Popup) onExpire() {
	snap, ok := p.resolver.beginExpiry()
	if !ok {
		return
	}

	// Expiry must land even if the popup is torn down meanwhile.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), 4*p.opts.StoreTimeout)
	defer cancel()

	var (
		out Outcome
		err error
	)
	backoff := p.opts.RetryBackoff
	for attempt := 0; attempt < 3; attempt++ {
		out, err = p.consolidator.Consolidate(ctx, snap)
		if err == nil {
			break
		}
		p.log.Warn("consolidation failed", slog.Int("attempt", attempt+1), slog.Any("err", err))
		if !sleepCtx(ctx, backoff) {
			break
		}
		backoff *= 2
	}
	if err != nil {
		p.resolver.endExpiry()
		p.emit(Event{Type: EventCallActionFailed, CallID: p.id, Message: "could not record missed call"})
		return
	}
	if out.Kind == OutcomeAlreadyHandled {
		p.resolver.endExpiry()
		if out.Call.ID == "" {
			p.onVanished()
		} else {
			p.onRemote(out.Call)
		}
		return
	}

	p.resolver.Dismiss()
	p.resolver.endExpiry()
	if out.Kind == OutcomeMerged {
		p.record(audit.EventTypeCallMerged, out.Call.ID, "merged "+out.MergedID)
	} else {
		p.record(audit.EventTypeCallMissed, p.id, "ring window elapsed")
	}
	if p.teardown(false) {
		c := out.Call
		p.emit(Event{Type: EventCallMissed, CallID: p.id, Call: &c})
	}
}

// Answer claims the call for this session.
func (p *Popup) Answer(ctx context.Context) (calls.Call, error) {
	if !p.timer.Pause() && p.timer.Fired() {
		return calls.Call{}, ErrRingWindowClosed
	}
	c, err := p.resolver.Answer(ctx)
	if err != nil {
		p.afterFailure(err, "answer")
		return calls.Call{}, err
	}
	p.timer.Stop()
	p.record(audit.EventTypeCallAnswered, p.id, "")
	p.emit(callEvent(EventCallAnswered, c))
	return c, nil
}

func (p *Popup) Reject(ctx context.Context) (calls.Call, error) {
	if !p.timer.Pause() && p.timer.Fired() {
		return calls.Call{}, ErrRingWindowClosed
	}
	c, err := p.resolver.Reject(ctx)
	if err != nil {
		p.afterFailure(err, "reject")
		return calls.Call{}, err
	}
	p.record(audit.EventTypeCallRejected, p.id, "")
	if p.teardown(false) {
		p.emit(callEvent(EventCallClosed, c))
	}
	return c, nil
}

func (p *Popup) MarkSpam(ctx context.Context) (calls.Call, error) {
	if !p.timer.Pause() && p.timer.Fired() {
		return calls.Call{}, ErrRingWindowClosed
	}
	c, err := p.resolver.MarkSpam(ctx)
	if err != nil {
		p.afterFailure(err, "mark spam")
		return calls.Call{}, err
	}
	p.record(audit.EventTypeCallSpam, p.id, "")
	if p.teardown(true) {
		p.emit(callEvent(EventCallClosed, c))
	}
	return c, nil
}

// EndCall saves pending notes and closes a call this session answered.
func (p *Popup) EndCall(ctx context.Context) (calls.Call, error) {
	if !p.resolver.OwnsOngoing() {
		if c := p.resolver.Snapshot(); p.resolver.Dismissed() && c.Status == calls.StatusAnswered {
			return c, nil
		}
		return calls.Call{}, ErrNotOngoing
	}
	if err := p.notes.Flush(ctx); err != nil && !errors.Is(err, ErrNotOngoing) {
		return calls.Call{}, err
	}
	c, err := p.resolver.EndCall(ctx)
	if err != nil {
		p.afterFailure(err, "end call")
		return calls.Call{}, err
	}
	p.record(audit.EventTypeCallEnded, p.id, "")
	if p.teardown(true) {
		p.emit(callEvent(EventCallClosed, c))
	}
	return c, nil
}

// RequestContact asks the CRUD layer to open contact creation for the caller.
func (p *Popup) RequestContact() (calls.Call, error) {
	if p.resolver.Dismissed() {
		return calls.Call{}, ErrDismissed
	}
	c := p.resolver.Snapshot()
	p.emit(callEvent(EventCallNeedsContact, c))
	return c, nil
}

// Minimize hides the popup; the countdown does not run while minimized.
func (p *Popup) Minimize() {
	p.mu.Lock()
	p.minimized = true
	p.mu.Unlock()
	p.timer.Pause()
}

func (p *Popup) Restore() {
	p.mu.Lock()
	p.minimized = false
	p.mu.Unlock()
	if p.resolver.Snapshot().Status == calls.StatusRinging && !p.resolver.Dismissed() {
		p.timer.Resume()
	}
}

func (p *Popup) EditNotes(ctx context.Context, text string) error {
	if !p.notes.Edit(ctx, text) {
		return ErrNotOngoing
	}
	return nil
}

func (p *Popup) SaveNotes(ctx context.Context, text string) error {
	return p.notes.SaveNow(ctx, text)
}

// Close dismisses the popup without touching the call, flushing notes first.
func (p *Popup) Close(ctx context.Context) {
	if p.resolver.OwnsOngoing() {
		if err := p.notes.Flush(ctx); err != nil && !errors.Is(err, ErrNotOngoing) {
			p.log.Warn("notes flush on close failed", slog.Any("err", err))
		}
	}
	p.resolver.Dismiss()
	if p.teardown(false) {
		p.emit(Event{Type: EventCallClosed, CallID: p.id})
	}
}

func (p *Popup) afterFailure(err error, action string) {
	switch {
	case errors.Is(err, ErrClaimedElsewhere):
		p.record(audit.EventTypeClaimLost, p.id, action)
		if p.teardown(false) {
			p.emit(Event{Type: EventCallClaimedElsewhere, CallID: p.id, Message: "call was answered by another agent"})
		}
		return
	case p.resolver.Dismissed():
		if p.teardown(false) {
			p.emit(Event{Type: EventCallClosed, CallID: p.id})
		}
		return
	}
	p.log.Warn("call action failed", slog.String("action", action), slog.Any("err", err))
	p.emit(Event{Type: EventCallActionFailed, CallID: p.id, Message: action + " failed"})
	snap := p.resolver.Snapshot()
	if snap.Status != calls.StatusRinging {
		p.timer.Stop()
		p.emit(callEvent(EventCallUpdated, snap))
		return
	}
	p.mu.Lock()
	minimized := p.minimized
	p.mu.Unlock()
	if !minimized {
		p.timer.Resume()
	}
}

// watch mirrors store updates for the record, resubscribing whenever the
// stream ends while the popup is still open.
func (p *Popup) watch(ctx context.Context) {
	backoff := p.opts.RetryBackoff
	for {
		sub, err := p.store.Subscribe(ctx, p.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("subscribe failed", slog.Any("err", err))
			if !sleepCtx(ctx, backoff) {
				return
			}
			if backoff < p.opts.MaxRetryBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = p.opts.RetryBackoff

		// Catch up on anything written before the subscription was live.
		if cur, err := p.store.Get(ctx, p.id); err == nil {
			p.onRemote(cur)
		} else if errors.Is(err, calls.ErrNotFound) {
			_ = sub.Close()
			p.onVanished()
			return
		}

		for c := range sub.Updates() {
			p.onRemote(c)
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		p.log.Debug("call subscription ended, resubscribing")
	}
}

func (p *Popup) onRemote(c calls.Call) {
	if c.Deleted {
		p.onVanished()
		return
	}
	switch p.resolver.HandleRemote(c) {
	case RemoteClaimedElsewhere:
		p.timer.Stop()
		if p.teardown(false) {
			p.emit(Event{Type: EventCallClaimedElsewhere, CallID: p.id, Message: "call was answered by another agent"})
		}
	case RemoteMirrored:
		if c.Status != calls.StatusRinging {
			p.timer.Stop()
		}
		p.emit(callEvent(EventCallUpdated, c))
	}
}

// onVanished handles a record deleted underneath the popup, typically merged
// into an earlier missed call by another session.
func (p *Popup) onVanished() {
	if p.resolver.Busy() || p.resolver.Dismissed() {
		// Our own write removed it; that path reports the outcome.
		return
	}
	p.timer.Stop()
	p.resolver.Dismiss()
	if p.teardown(false) {
		p.emit(Event{Type: EventCallClosed, CallID: p.id, Message: "call no longer exists"})
	}
}

// teardown releases the popup's tasks. It reports whether this call did it.
func (p *Popup) teardown(remember bool) bool {
	first := false
	p.closeOnce.Do(func() {
		first = true
		p.timer.Stop()
		p.notes.Close()
		p.cancel()
		close(p.closed)
		if p.onClose != nil {
			p.onClose(p.id, remember)
		}
	})
	return first
}

func (p *Popup) record(typ audit.EventType, callID, message string) {
	if p.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.StoreTimeout)
	defer cancel()
	if err := p.audit.LogCall(ctx, typ, p.agentID, p.sessionID, callID, message); err != nil {
		p.log.Warn("audit append failed", slog.String("type", string(typ)), slog.Any("err", err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
