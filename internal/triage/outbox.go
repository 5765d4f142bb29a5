package triage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Publisher hands relayed events to the systems that act on them (the CRUD
// layer opens views, creates contacts, follows up missed calls).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Outbound is the wire form of a relayed event.
type Outbound struct {
	Event
	AgentID string `json:"agent_id"`
}

// Relayed reports whether events of this type leave the process.
func (t EventType) Relayed() bool {
	switch t {
	case EventCallAnswered, EventCallNeedsContact, EventLeadAccepted, EventLeadDismissed, EventCallMissed:
		return true
	default:
		return false
	}
}

// outbox publishes relayed events from one goroutine so a slow broker never
// stalls a session.
type outbox struct {
	pub     Publisher
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	ch     chan Outbound
	done   chan struct{}
}

func newOutbox(pub Publisher, size int, timeout time.Duration, log *slog.Logger) *outbox {
	o := &outbox{
		pub:     pub,
		timeout: timeout,
		log:     log,
		ch:      make(chan Outbound, size),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) enqueue(e Outbound) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	select {
	case o.ch <- e:
	default:
		o.log.Warn("outbox full, dropping event", slog.String("type", string(e.Type)), slog.String("session_id", e.SessionID))
	}
}

func (o *outbox) run() {
	defer close(o.done)
	for e := range o.ch {
		payload, err := json.Marshal(e)
		if err != nil {
			o.log.Error("outbound event encode failed", slog.String("type", string(e.Type)), slog.Any("err", err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		err = o.pub.Publish(ctx, string(e.Type), payload)
		cancel()
		if err != nil {
			o.log.Warn("outbound event publish failed", slog.String("type", string(e.Type)), slog.Any("err", err))
		}
	}
}

// close stops accepting events and waits until queued ones are published.
func (o *outbox) close(ctx context.Context) {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
	o.mu.Unlock()
	select {
	case <-o.done:
	case <-ctx.Done():
	}
}
