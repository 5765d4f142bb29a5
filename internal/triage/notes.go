package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crm-triage/internal/calls"
)

// NotesAutosave debounces note edits on an ongoing call into a single write.
// Every edit restarts the quiet period; a manual save writes immediately.
type NotesAutosave struct {
	callID  string
	store   calls.Store
	delay   time.Duration
	after   AfterFunc
	active  func() bool
	onSaved func(calls.Call)
	log     *slog.Logger

	edits    chan string
	saves    chan saveRequest
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type saveRequest struct {
	text  *string
	reply chan error
}

func NewNotesAutosave(callID string, store calls.Store, delay time.Duration, after AfterFunc, active func() bool, log *slog.Logger) *NotesAutosave {
	if after == nil {
		after = time.After
	}
	if log == nil {
		log = slog.Default()
	}
	return &NotesAutosave{
		callID: callID,
		store:  store,
		delay:  delay,
		after:  after,
		active: active,
		log:    log,
		edits:  make(chan string),
		saves:  make(chan saveRequest),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// OnSaved registers a callback for successful writes. Call before Run.
func (n *NotesAutosave) OnSaved(fn func(calls.Call)) { n.onSaved = fn }

func (n *NotesAutosave) Run(ctx context.Context) {
	defer close(n.done)

	var (
		pending string
		dirty   bool
		fire    <-chan time.Time
	)
	write := func(text string) error {
		err := n.write(ctx, text)
		if err == nil || errors.Is(err, ErrNotOngoing) {
			dirty = false
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stop:
			return
		case text := <-n.edits:
			pending, dirty = text, true
			fire = n.after(n.delay)
		case <-fire:
			fire = nil
			if dirty {
				if err := write(pending); err != nil {
					n.log.Warn("notes autosave failed", slog.String("call_id", n.callID), slog.Any("err", err))
				}
			}
		case req := <-n.saves:
			fire = nil
			if req.text != nil {
				pending, dirty = *req.text, true
			}
			if !dirty {
				req.reply <- nil
				continue
			}
			req.reply <- write(pending)
		}
	}
}

// Edit records new note content. It reports false when the call is not an
// ongoing call owned by this session, in which case nothing is persisted.
func (n *NotesAutosave) Edit(ctx context.Context, text string) bool {
	if !n.active() {
		return false
	}
	select {
	case n.edits <- text:
		return true
	case <-ctx.Done():
	case <-n.stop:
	case <-n.done:
	}
	return false
}

// SaveNow writes text immediately, cancelling any pending debounce.
func (n *NotesAutosave) SaveNow(ctx context.Context, text string) error {
	if !n.active() {
		return ErrNotOngoing
	}
	return n.request(ctx, &text)
}

// Flush writes pending edits, if any, without waiting for the quiet period.
func (n *NotesAutosave) Flush(ctx context.Context) error {
	return n.request(ctx, nil)
}

func (n *NotesAutosave) request(ctx context.Context, text *string) error {
	req := saveRequest{text: text, reply: make(chan error, 1)}
	select {
	case n.saves <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stop:
		return nil
	case <-n.done:
		return nil
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the loop; unsaved edits are dropped. Flush first to keep them.
func (n *NotesAutosave) Close() {
	n.stopOnce.Do(func() { close(n.stop) })
}

func (n *NotesAutosave) write(ctx context.Context, text string) error {
	updated, err := n.store.Patch(ctx, n.callID, calls.Patch{
		Notes:        calls.Ptr(text),
		ExpectStatus: calls.Ptr(calls.StatusOngoing),
	})
	if errors.Is(err, calls.ErrConflict) {
		return ErrNotOngoing
	}
	if err != nil {
		return fmt.Errorf("save notes %s: %w", n.callID, err)
	}
	if n.onSaved != nil {
		n.onSaved(updated)
	}
	return nil
}
