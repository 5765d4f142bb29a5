package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps the trail in process for tests.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the trail in append order.
func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

// ForCall returns the events of typ recorded against callID. An empty typ matches all types.
func (r *MemoryRepo) ForCall(typ EventType, callID string) []Event {
	return r.filter(func(e Event) bool {
		return e.CallID == callID && (typ == "" || e.Type == typ)
	})
}

// ForLead is ForCall for lead decisions.
func (r *MemoryRepo) ForLead(typ EventType, leadID string) []Event {
	return r.filter(func(e Event) bool {
		return e.LeadID == leadID && (typ == "" || e.Type == typ)
	})
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
