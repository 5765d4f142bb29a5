package triage

import "time"

// Ticker is the part of *time.Ticker the countdown and poll loops use.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a running ticker.
type TickerFunc func(d time.Duration) Ticker

// AfterFunc returns a channel that fires once after d.
type AfterFunc func(d time.Duration) <-chan time.Time

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

func NewStdTicker(d time.Duration) Ticker { return stdTicker{t: time.NewTicker(d)} }
