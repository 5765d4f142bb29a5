package triage

import (
	"context"
	"log/slog"
	"time"

	"crm-triage/internal/calls"
)

// Sweeper consolidates calls left ringing after every session watching them
// went away. Anything ringing longer than the ring window plus grace is expired,
// unless a local popup still shows it (a minimized popup holds its countdown).
type Sweeper struct {
	watching     func(callID string) bool
	store        calls.Store
	consolidator *Consolidator
	window       time.Duration
	grace        time.Duration
	lookback     time.Duration
	clock        func() time.Time
	log          *slog.Logger
}

func NewSweeper(store calls.Store, consolidator *Consolidator, opts Options, grace time.Duration, log *slog.Logger) *Sweeper {
	opts = opts.withDefaults()
	if grace <= 0 {
		grace = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:        store,
		consolidator: consolidator,
		window:       time.Duration(opts.RingUnits) * opts.Tick,
		grace:        grace,
		lookback:     24 * time.Hour,
		clock:        time.Now,
		log:          log,
	}
}

func (s *Sweeper) SetClock(clock func() time.Time) { s.clock = clock }

// SetWatching installs the check for calls still open in this process.
// Service.Watching is the usual source.
func (s *Sweeper) SetWatching(fn func(callID string) bool) { s.watching = fn }

// SweepOnce expires stale ringing calls and returns how many it handled.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock().UTC()
	cutoff := now.Add(-(s.window + s.grace))
	list, err := s.store.ListCalls(ctx, now.Add(-s.lookback), cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	// Oldest first, so later attempts fold into the earliest missed record.
	for i := len(list) - 1; i >= 0; i-- {
		c := list[i]
		if c.Status != calls.StatusRinging || c.CreatedAt.After(cutoff) {
			continue
		}
		if s.watching != nil && s.watching(c.ID) {
			continue
		}
		out, err := s.consolidator.Consolidate(ctx, c)
		if err != nil {
			s.log.Warn("sweep consolidation failed", slog.String("call_id", c.ID), slog.Any("err", err))
			continue
		}
		if out.Kind != OutcomeAlreadyHandled {
			n++
		}
	}
	return n, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, newTicker TickerFunc) {
	if newTicker == nil {
		newTicker = NewStdTicker
	}
	tk := newTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C():
			if n, err := s.SweepOnce(ctx); err != nil {
				s.log.Warn("stale call sweep failed", slog.Any("err", err))
			} else if n > 0 {
				s.log.Info("stale ringing calls expired", slog.Int("count", n))
			}
		}
	}
}
