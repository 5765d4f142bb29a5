package triage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"crm-triage/internal/audit"
	"crm-triage/internal/calls"
	"crm-triage/internal/leads"
)

const DefaultRingUnits = 18

// Options tunes the session tasks. Zero values take the defaults below.
type Options struct {
	RingUnits        int           // default 18
	Tick             time.Duration // one countdown unit, default 1s
	NotesDebounce    time.Duration // default 2 ticks
	LeadPollInterval time.Duration // default 15s, floor 3s
	LeadClearDelay   time.Duration // default 300ms
	LeadFetchTimeout time.Duration // default 5s
	StoreTimeout     time.Duration // default 5s
	RetryBackoff     time.Duration // default 250ms
	MaxRetryBackoff  time.Duration // default 5s
	EventBuffer      int           // default 256

	NewTicker TickerFunc
	After     AfterFunc
}

func (o Options) withDefaults() Options {
	if o.RingUnits <= 0 {
		o.RingUnits = DefaultRingUnits
	}
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.NotesDebounce <= 0 {
		o.NotesDebounce = 2 * o.Tick
	}
	o.LeadPollInterval = PollInterval(o.LeadPollInterval)
	if o.LeadClearDelay <= 0 {
		o.LeadClearDelay = DefaultLeadClearDelay
	}
	if o.LeadFetchTimeout <= 0 {
		o.LeadFetchTimeout = 5 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 250 * time.Millisecond
	}
	if o.MaxRetryBackoff < o.RetryBackoff {
		o.MaxRetryBackoff = 5 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.NewTicker == nil {
		o.NewTicker = NewStdTicker
	}
	if o.After == nil {
		o.After = time.After
	}
	return o
}

// Auditor is the slice of audit.Service triage writes to.
type Auditor interface {
	LogCall(ctx context.Context, typ audit.EventType, actorID, sessionID, callID, message string) error
	LogLead(ctx context.Context, typ audit.EventType, actorID, sessionID, leadID string) error
}

// Admission caps concurrent sessions per agent across processes.
// utils.SlotLimiter implements it on Redis.
type Admission interface {
	Acquire(ctx context.Context, agentID string) (bool, error)
	Release(ctx context.Context, agentID string) error
}

type Deps struct {
	Store        calls.Store
	Leads        leads.Fetcher
	Consolidator *Consolidator
	Audit        Auditor
	Admission    Admission
	Publisher    Publisher
	Log          *slog.Logger
}

// Service is the registry of live triage sessions, one per agent page.
type Service struct {
	deps Deps
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	outbox *outbox

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Consolidator == nil {
		deps.Consolidator = NewConsolidator(deps.Store, nil, deps.Log)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		deps:     deps,
		opts:     opts.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: map[string]*Session{},
	}
	if deps.Publisher != nil {
		s.outbox = newOutbox(deps.Publisher, s.opts.EventBuffer, s.opts.StoreTimeout, deps.Log)
	}
	return s
}

func (s *Service) Options() Options { return s.opts }

// Open starts a session for an agent. Sessions outlive the request that opens
// them and end with Close or Shutdown.
func (s *Service) Open(ctx context.Context, agentID string, visible bool) (*Session, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", ErrInvalidArgument)
	}
	if s.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}
	if s.deps.Admission != nil {
		ok, err := s.deps.Admission.Acquire(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("triage: session admission: %w", err)
		}
		if !ok {
			return nil, ErrTooManySessions
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		s.release(agentID)
		return nil, ErrSessionClosed
	}
	var relay func(Event)
	if s.outbox != nil {
		relay = func(e Event) { s.outbox.enqueue(Outbound{Event: e, AgentID: agentID}) }
	}
	sess := newSession(s.ctx, uuid.NewString(), agentID, visible, s.deps, s.opts, relay, s.forget)
	s.sessions[sess.ID()] = sess
	s.deps.Log.Info("triage session opened", slog.String("session_id", sess.ID()), slog.String("agent_id", agentID))
	return sess, nil
}

func (s *Service) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *Service) Close(ctx context.Context, id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.Close(ctx)
	return nil
}

// Watching reports whether any live session has a popup open for callID.
func (s *Service) Watching(callID string) bool {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()
	for _, sess := range all {
		if _, err := sess.Popup(callID); err == nil {
			return true
		}
	}
	return false
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every session, flushing pending notes.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.Close(ctx)
	}
	s.cancel()
	if s.outbox != nil {
		s.outbox.close(ctx)
	}
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		s.release(sess.AgentID())
	}
}

func (s *Service) release(agentID string) {
	if s.deps.Admission == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
	defer cancel()
	if err := s.deps.Admission.Release(ctx, agentID); err != nil {
		s.deps.Log.Warn("session slot release failed", slog.String("agent_id", agentID), slog.Any("err", err))
	}
}
