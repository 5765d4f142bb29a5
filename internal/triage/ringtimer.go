package triage

import (
	"context"
	"sync"
	"time"
)

// RingTimer counts down a ringing call in whole units. The countdown is
// suspended while paused and never fires its expiry more than once.
type RingTimer struct {
	unit      time.Duration
	newTicker TickerFunc

	mu        sync.Mutex
	remaining int
	started   bool
	paused    bool
	stopped   bool
	fired     bool

	wake chan struct{}
	done chan struct{}
}

func NewRingTimer(units int, unit time.Duration, newTicker TickerFunc) *RingTimer {
	if units <= 0 {
		units = 1
	}
	if newTicker == nil {
		newTicker = NewStdTicker
	}
	return &RingTimer{
		unit:      unit,
		newTicker: newTicker,
		remaining: units,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the countdown. onTick receives the remaining units after each
// tick that does not expire; onExpire runs once when the countdown reaches zero.
// Both run on the timer goroutine. Calling Start twice is a no-op.
func (t *RingTimer) Start(ctx context.Context, onTick func(remaining int), onExpire func()) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()
	go t.run(ctx, onTick, onExpire)
}

func (t *RingTimer) run(ctx context.Context, onTick func(int), onExpire func()) {
	defer close(t.done)

	var tk Ticker
	var tickC <-chan time.Time
	defer func() {
		if tk != nil {
			tk.Stop()
		}
	}()

	apply := func() bool {
		t.mu.Lock()
		stopped, running := t.stopped, !t.paused && !t.stopped
		t.mu.Unlock()
		switch {
		case running && tk == nil:
			tk = t.newTicker(t.unit)
			tickC = tk.C()
		case !running && tk != nil:
			tk.Stop()
			tk, tickC = nil, nil
		}
		return !stopped
	}

	if !apply() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.stopped = true
			t.mu.Unlock()
			return
		case <-t.wake:
			if !apply() {
				return
			}
		case <-tickC:
			t.mu.Lock()
			if t.paused || t.stopped {
				t.mu.Unlock()
				continue
			}
			t.remaining--
			rem := t.remaining
			if rem <= 0 {
				t.fired = true
				t.mu.Unlock()
				if onExpire != nil {
					onExpire()
				}
				return
			}
			t.mu.Unlock()
			if onTick != nil {
				onTick(rem)
			}
		}
	}
}

func (t *RingTimer) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Pause suspends the countdown. It reports false when the timer has already
// fired or been stopped, so callers can tell they lost the race with expiry.
func (t *RingTimer) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	if !t.paused {
		t.paused = true
		t.signal()
	}
	return true
}

func (t *RingTimer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped || !t.paused {
		return
	}
	t.paused = false
	t.signal()
}

// Stop cancels the countdown for good. It reports whether the timer was
// stopped before it fired.
func (t *RingTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return false
	}
	if !t.stopped {
		t.stopped = true
		t.signal()
	}
	return true
}

func (t *RingTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *RingTimer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *RingTimer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Done is closed when the timer goroutine exits. It never closes if Start was
// not called.
func (t *RingTimer) Done() <-chan struct{} { return t.done }
