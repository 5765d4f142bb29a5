package triage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crm-triage/internal/leads"
)

const (
	DefaultLeadPollInterval = 15 * time.Second
	MinLeadPollInterval     = 3 * time.Second
	DefaultLeadClearDelay   = 300 * time.Millisecond
)

// LeadDispatcher polls for the latest incoming lead while the page is visible
// and surfaces each lead at most once per session. Dismissed leads never
// reappear, even if the source keeps returning them.
type LeadDispatcher struct {
	fetcher      leads.Fetcher
	interval     time.Duration
	clearDelay   time.Duration
	fetchTimeout time.Duration
	newTicker    TickerFunc
	after        AfterFunc
	emit         Emitter
	log          *slog.Logger

	mu        sync.Mutex
	dismissed map[string]struct{}
	current   *leads.Lead
	warned    bool
	visible   bool

	visibility chan bool
	refocus    chan struct{}
	clears     chan string
	done       chan struct{}
}

type LeadDispatcherConfig struct {
	Interval     time.Duration
	ClearDelay   time.Duration
	FetchTimeout time.Duration
	NewTicker    TickerFunc
	After        AfterFunc
	// Visible is the page state when Run starts.
	Visible bool
}

// PollInterval applies the default and the lower bound to a configured interval.
func PollInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultLeadPollInterval
	}
	if d < MinLeadPollInterval {
		return MinLeadPollInterval
	}
	return d
}

func NewLeadDispatcher(fetcher leads.Fetcher, cfg LeadDispatcherConfig, emit Emitter, log *slog.Logger) *LeadDispatcher {
	if cfg.ClearDelay <= 0 {
		cfg.ClearDelay = DefaultLeadClearDelay
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewStdTicker
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	if emit == nil {
		emit = func(Event) {}
	}
	if log == nil {
		log = slog.Default()
	}
	return &LeadDispatcher{
		fetcher:      fetcher,
		interval:     PollInterval(cfg.Interval),
		clearDelay:   cfg.ClearDelay,
		fetchTimeout: cfg.FetchTimeout,
		newTicker:    cfg.NewTicker,
		after:        cfg.After,
		emit:         emit,
		log:          log,
		dismissed:    map[string]struct{}{},
		visible:      cfg.Visible,
		visibility:   make(chan bool),
		refocus:      make(chan struct{}),
		clears:       make(chan string),
		done:         make(chan struct{}),
	}
}

func (d *LeadDispatcher) Interval() time.Duration { return d.interval }

// Run owns the poll ticker until ctx is done.
func (d *LeadDispatcher) Run(ctx context.Context) {
	defer close(d.done)

	var tk Ticker
	var tickC <-chan time.Time
	start := func() {
		if tk == nil {
			tk = d.newTicker(d.interval)
			tickC = tk.C()
		}
	}
	stop := func() {
		if tk != nil {
			tk.Stop()
			tk, tickC = nil, nil
		}
	}
	defer stop()

	var (
		clearC  <-chan time.Time
		clearID string
	)

	d.mu.Lock()
	visible := d.visible
	d.mu.Unlock()
	if visible {
		d.poll(ctx)
		start()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-d.visibility:
			if v == visible {
				continue
			}
			visible = v
			d.setVisible(v)
			if v {
				d.poll(ctx)
				start()
			} else {
				stop()
			}
		case <-d.refocus:
			if !visible {
				visible = true
				d.setVisible(true)
			}
			stop()
			d.poll(ctx)
			start()
		case <-tickC:
			d.poll(ctx)
		case id := <-d.clears:
			clearID = id
			clearC = d.after(d.clearDelay)
		case <-clearC:
			clearC = nil
			d.mu.Lock()
			if d.current != nil && d.current.ID == clearID {
				d.current = nil
			}
			d.mu.Unlock()
		}
	}
}

func (d *LeadDispatcher) setVisible(v bool) {
	d.mu.Lock()
	d.visible = v
	d.mu.Unlock()
}

func (d *LeadDispatcher) poll(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, d.fetchTimeout)
	l, ok, err := d.fetcher.FetchLatestIncoming(fctx)
	cancel()
	if err != nil {
		d.mu.Lock()
		first := !d.warned
		d.warned = true
		d.mu.Unlock()
		if first {
			d.log.Warn("lead fetch failed", slog.Any("err", err))
			d.emit(Event{Type: EventLeadFetchWarning, Message: "incoming leads are temporarily unavailable"})
		} else {
			d.log.Debug("lead fetch failed", slog.Any("err", err))
		}
		return
	}
	if !ok || l.ID == "" {
		return
	}

	d.mu.Lock()
	if _, gone := d.dismissed[l.ID]; gone || (d.current != nil && d.current.ID == l.ID) {
		d.mu.Unlock()
		return
	}
	cp := l
	d.current = &cp
	d.mu.Unlock()

	shown := l
	d.emit(Event{Type: EventLeadShown, LeadID: l.ID, Lead: &shown})
}

// SetVisible reports a page visibility change.
func (d *LeadDispatcher) SetVisible(ctx context.Context, visible bool) {
	select {
	case d.visibility <- visible:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Refocus reports that the window regained focus; it forces a poll.
func (d *LeadDispatcher) Refocus(ctx context.Context) {
	select {
	case d.refocus <- struct{}{}:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Dismiss hides a lead for the rest of the session.
func (d *LeadDispatcher) Dismiss(ctx context.Context, id string) {
	d.mu.Lock()
	d.dismissed[id] = struct{}{}
	d.mu.Unlock()

	d.emit(Event{Type: EventLeadDismissed, LeadID: id})
	d.scheduleClear(ctx, id)
}

// invalidator is implemented by fetchers that cache the latest lead.
type invalidator interface {
	Invalidate()
}

// Accept hands the lead on display to the 360 view and never shows it again.
// A shared lead cache is dropped so other sessions stop seeing the handled lead.
func (d *LeadDispatcher) Accept(ctx context.Context, id string) (leads.Lead, error) {
	d.mu.Lock()
	_, gone := d.dismissed[id]
	if gone || d.current == nil || d.current.ID != id {
		d.mu.Unlock()
		return leads.Lead{}, ErrLeadNotShown
	}
	l := *d.current
	d.dismissed[id] = struct{}{}
	d.mu.Unlock()

	if inv, ok := d.fetcher.(invalidator); ok {
		inv.Invalidate()
	}

	accepted := l
	d.emit(Event{Type: EventLeadAccepted, LeadID: id, Lead: &accepted})
	d.scheduleClear(ctx, id)
	return l, nil
}

func (d *LeadDispatcher) scheduleClear(ctx context.Context, id string) {
	select {
	case d.clears <- id:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Current returns the lead on display, if any.
func (d *LeadDispatcher) Current() (leads.Lead, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return leads.Lead{}, false
	}
	return *d.current, true
}

func (d *LeadDispatcher) IsDismissed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.dismissed[id]
	return ok
}

func (d *LeadDispatcher) Visible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible
}

func (d *LeadDispatcher) Done() <-chan struct{} { return d.done }
