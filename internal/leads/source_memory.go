package leads

import (
	"context"
	"sync"
)

// MemoryFetcher serves a settable "latest lead" for tests and local runs.
type MemoryFetcher struct {
	mu     sync.Mutex
	latest *Lead
	err    error
	calls  int
}

func NewMemoryFetcher() *MemoryFetcher { return &MemoryFetcher{} }

// SetLatest replaces the lead returned by the next fetches. nil means none.
func (m *MemoryFetcher) SetLatest(l *Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l == nil {
		m.latest = nil
		return
	}
	cp := *l
	m.latest = &cp
}

// SetErr makes every fetch fail with err until cleared with nil.
func (m *MemoryFetcher) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many fetches have been made.
func (m *MemoryFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MemoryFetcher) FetchLatestIncoming(ctx context.Context) (Lead, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return Lead{}, false, m.err
	}
	if m.latest == nil {
		return Lead{}, false, nil
	}
	return *m.latest, true, nil
}
