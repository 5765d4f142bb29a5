package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crm-triage/internal/audit"
	"crm-triage/internal/calls"
	"crm-triage/internal/leads"
)

// Session is one agent's triage view: open call popups, the set of calls it
// has finished with, and its lead notifications.
type Session struct {
	id      string
	agentID string

	deps Deps
	opts Options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	relay  func(Event)
	forget func(id string)

	leads *LeadDispatcher

	mu      sync.Mutex
	popups  map[string]*Popup
	handled map[string]struct{}
	closed  bool
}

func newSession(parent context.Context, id, agentID string, visible bool, deps Deps, opts Options, relay func(Event), forget func(string)) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:      id,
		agentID: agentID,
		deps:    deps,
		opts:    opts,
		log:     deps.Log.With(slog.String("session_id", id), slog.String("agent_id", agentID)),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan Event, opts.EventBuffer),
		relay:   relay,
		forget:  forget,
		popups:  map[string]*Popup{},
		handled: map[string]struct{}{},
	}
	if deps.Leads != nil {
		s.leads = NewLeadDispatcher(deps.Leads, LeadDispatcherConfig{
			Interval:     opts.LeadPollInterval,
			ClearDelay:   opts.LeadClearDelay,
			FetchTimeout: opts.LeadFetchTimeout,
			NewTicker:    opts.NewTicker,
			After:        opts.After,
			Visible:      visible,
		}, s.emit, s.log)
		go s.leads.Run(ctx)
	}
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) AgentID() string { return s.agentID }

// Events streams everything the session's UI needs to render. The channel is
// never closed; stop reading when Done is closed.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) emit(e Event) {
	e.SessionID = s.id
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if s.relay != nil && e.Type.Relayed() {
		s.relay(e)
	}
	select {
	case s.events <- e:
	default:
		s.log.Warn("event buffer full, dropping event", slog.String("type", string(e.Type)))
	}
}

// OpenCall shows the popup for a ringing call. Opening an already open call
// returns its current state.
func (s *Session) OpenCall(ctx context.Context, callID string) (calls.Call, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return calls.Call{}, ErrSessionClosed
	}
	if _, done := s.handled[callID]; done {
		s.mu.Unlock()
		return calls.Call{}, ErrAlreadyHandled
	}
	if p, ok := s.popups[callID]; ok {
		s.mu.Unlock()
		return p.Snapshot(), nil
	}
	s.mu.Unlock()

	c, err := s.deps.Store.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if c.Status != calls.StatusRinging {
		return calls.Call{}, fmt.Errorf("%w: call is %s", ErrNotRinging, c.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return calls.Call{}, ErrSessionClosed
	}
	if p, ok := s.popups[callID]; ok {
		return p.Snapshot(), nil
	}
	s.popups[callID] = openPopup(s.ctx, popupDeps{
		sessionID:    s.id,
		agentID:      s.agentID,
		store:        s.deps.Store,
		consolidator: s.deps.Consolidator,
		audit:        s.deps.Audit,
		emit:         s.emit,
		log:          s.log,
		opts:         s.opts,
		onClose:      s.popupClosed,
	}, c)
	return c, nil
}

func (s *Session) popupClosed(id string, remember bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.popups, id)
	if remember {
		s.handled[id] = struct{}{}
	}
}

func (s *Session) popup(callID string) (*Popup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	p, ok := s.popups[callID]
	if !ok {
		return nil, ErrPopupNotFound
	}
	return p, nil
}

// Popup exposes an open popup; mainly for inspection.
func (s *Session) Popup(callID string) (*Popup, error) { return s.popup(callID) }

func (s *Session) OpenCalls() []calls.Call {
	s.mu.Lock()
	ps := make([]*Popup, 0, len(s.popups))
	for _, p := range s.popups {
		ps = append(ps, p)
	}
	s.mu.Unlock()

	out := make([]calls.Call, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Snapshot())
	}
	return out
}

func (s *Session) Handled(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handled[callID]
	return ok
}

func (s *Session) Answer(ctx context.Context, callID string) (calls.Call, error) {
	p, err := s.popup(callID)
	if err != nil {
		return calls.Call{}, err
	}
	return p.Answer(ctx)
}

func (s *Session) Reject(ctx context.Context, callID string) (calls.Call, error) {
	p, err := s.popup(callID)
	if err != nil {
		return calls.Call{}, err
	}
	return p.Reject(ctx)
}

func (s *Session) MarkSpam(ctx context.Context, callID string) (calls.Call, error) {
	p, err := s.popup(callID)
	if err != nil {
		return calls.Call{}, err
	}
	return p.MarkSpam(ctx)
}

func (s *Session) EndCall(ctx context.Context, callID string) (calls.Call, error) {
	p, err := s.popup(callID)
	if err != nil {
		return calls.Call{}, err
	}
	return p.EndCall(ctx)
}

func (s *Session) RequestContact(callID string) (calls.Call, error) {
	p, err := s.popup(callID)
	if err != nil {
		return calls.Call{}, err
	}
	return p.RequestContact()
}

func (s *Session) Minimize(callID string) error {
	p, err := s.popup(callID)
	if err != nil {
		return err
	}
	p.Minimize()
	return nil
}

func (s *Session) Restore(callID string) error {
	p, err := s.popup(callID)
	if err != nil {
		return err
	}
	p.Restore()
	return nil
}

func (s *Session) EditNotes(ctx context.Context, callID, text string) error {
	p, err := s.popup(callID)
	if err != nil {
		return err
	}
	return p.EditNotes(ctx, text)
}

func (s *Session) SaveNotes(ctx context.Context, callID, text string) error {
	p, err := s.popup(callID)
	if err != nil {
		return err
	}
	return p.SaveNotes(ctx, text)
}

// ClosePopup dismisses a popup without changing the call, as navigating away does.
func (s *Session) ClosePopup(ctx context.Context, callID string) error {
	p, err := s.popup(callID)
	if err != nil {
		return err
	}
	p.Close(ctx)
	return nil
}

func (s *Session) SetVisible(ctx context.Context, visible bool) error {
	if s.leads == nil {
		return nil
	}
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.leads.SetVisible(ctx, visible)
	return nil
}

func (s *Session) Refocus(ctx context.Context) error {
	if s.leads == nil {
		return nil
	}
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.leads.Refocus(ctx)
	return nil
}

func (s *Session) DismissLead(ctx context.Context, leadID string) error {
	if s.leads == nil {
		return ErrLeadNotShown
	}
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.leads.Dismiss(ctx, leadID)
	s.recordLead(audit.EventTypeLeadDismissed, leadID)
	return nil
}

func (s *Session) AcceptLead(ctx context.Context, leadID string) (leads.Lead, error) {
	if s.leads == nil {
		return leads.Lead{}, ErrLeadNotShown
	}
	if s.isClosed() {
		return leads.Lead{}, ErrSessionClosed
	}
	l, err := s.leads.Accept(ctx, leadID)
	if err != nil {
		return leads.Lead{}, err
	}
	s.recordLead(audit.EventTypeLeadAccepted, leadID)
	return l, nil
}

func (s *Session) Leads() *LeadDispatcher { return s.leads }

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close flushes pending notes, stops every task and unregisters the session.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ps := make([]*Popup, 0, len(s.popups))
	for _, p := range s.popups {
		ps = append(ps, p)
	}
	s.mu.Unlock()

	for _, p := range ps {
		p.Close(ctx)
	}
	s.cancel()
	if s.leads != nil {
		<-s.leads.Done()
	}
	if s.forget != nil {
		s.forget(s.id)
	}
	s.log.Info("triage session closed")
}

func (s *Session) recordLead(typ audit.EventType, leadID string) {
	if s.deps.Audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
	defer cancel()
	if err := s.deps.Audit.LogLead(ctx, typ, s.agentID, s.id, leadID); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("audit append failed", slog.String("type", string(typ)), slog.Any("err", err))
	}
}
