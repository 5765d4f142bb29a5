package triage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"crm-triage/internal/calls"
)

const waitTimeout = 2 * time.Second

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop()               { m.once.Do(func() { close(m.stopped) }) }

func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.c <- time.Now():
	case <-time.After(waitTimeout):
		t.Fatalf("tick was not consumed")
	}
}

func (m *manualTicker) waitStopped(t *testing.T) {
	t.Helper()
	select {
	case <-m.stopped:
	case <-time.After(waitTimeout):
		t.Fatalf("ticker was not stopped")
	}
}

type tickerFactory struct {
	created chan *manualTicker
}

func newTickerFactory() *tickerFactory {
	return &tickerFactory{created: make(chan *manualTicker, 64)}
}

func (f *tickerFactory) New(d time.Duration) Ticker {
	m := &manualTicker{c: make(chan time.Time), stopped: make(chan struct{})}
	f.created <- m
	return m
}

func (f *tickerFactory) next(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case m := <-f.created:
		return m
	case <-time.After(waitTimeout):
		t.Fatalf("no ticker was created")
		return nil
	}
}

func (f *tickerFactory) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case <-f.created:
		t.Fatalf("unexpected ticker created")
	case <-time.After(within):
	}
}

// manualAfter hands out one-shot channels that only fire when the test says so.
type manualAfter struct {
	created chan chan time.Time
}

func newManualAfter() *manualAfter {
	return &manualAfter{created: make(chan chan time.Time, 64)}
}

func (a *manualAfter) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	a.created <- ch
	return ch
}

func (a *manualAfter) next(t *testing.T) chan time.Time {
	t.Helper()
	select {
	case ch := <-a.created:
		return ch
	case <-time.After(waitTimeout):
		t.Fatalf("no timer was scheduled")
		return nil
	}
}

type eventSink struct {
	ch chan Event
}

func newEventSink() *eventSink { return &eventSink{ch: make(chan Event, 256)} }

func (s *eventSink) emit(e Event) { s.ch <- e }

func waitEvent(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return Event{}
		}
	}
}

func expectNoEvent(t *testing.T, ch <-chan Event, typ EventType, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				t.Fatalf("unexpected %s event: %+v", typ, e)
			}
		case <-deadline:
			return
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func insertCall(t *testing.T, store *calls.MemoryStore, c calls.Call) calls.Call {
	t.Helper()
	out, err := store.Insert(context.Background(), c)
	if err != nil {
		t.Fatalf("insert %s: %v", c.ID, err)
	}
	return out
}

func mustGet(t *testing.T, store calls.Store, id string) calls.Call {
	t.Helper()
	c, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return c
}

// patchCounter counts successful-path patch calls per record through the
// memory store's failure hook.
type patchCounter struct {
	mu sync.Mutex
	n  map[string]int
}

func countPatches(store *calls.MemoryStore) *patchCounter {
	pc := &patchCounter{n: map[string]int{}}
	store.Fail = func(op, id string) error {
		if op == "patch" {
			pc.mu.Lock()
			pc.n[id]++
			pc.mu.Unlock()
		}
		return nil
	}
	return pc
}

func (p *patchCounter) get(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n[id]
}
