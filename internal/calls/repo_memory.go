package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store useful for tests and local runs.
// Subscribers receive updates synchronously in write order.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]Call
	subs  map[string]map[*memorySub]struct{}

	clock func() time.Time

	// Fail, when set, is consulted before every operation; a non-nil result is
	// returned instead of touching the data. op is one of get, find, list,
	// insert, patch, delete, subscribe.
	Fail func(op, id string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls: map[string]Call{},
		subs:  map[string]map[*memorySub]struct{}{},
		clock: time.Now,
	}
}

// SetClock overrides the timestamp source for CreatedAt/UpdatedAt.
func (s *MemoryStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *MemoryStore) fail(op, id string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op, id)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Call, error) {
	if err := s.fail("get", id); err != nil {
		return Call{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) FindLatestMissed(ctx context.Context, phoneKey, excludeID string) (Call, bool, error) {
	if err := s.fail("find", excludeID); err != nil {
		return Call{}, false, err
	}
	if phoneKey == "" {
		return Call{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var best Call
	found := false
	for id, c := range s.calls {
		if id == excludeID || c.Status != StatusMissed {
			continue
		}
		if NormalizePhone(c.PhoneNumber) != phoneKey {
			continue
		}
		if !found || c.CreatedAt.After(best.CreatedAt) {
			best = c
			found = true
		}
	}
	return best, found, nil
}

func (s *MemoryStore) ListCalls(ctx context.Context, from, to time.Time) ([]Call, error) {
	if err := s.fail("list", ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0, len(s.calls))
	for _, c := range s.calls {
		if !from.IsZero() && c.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Insert(ctx context.Context, c Call) (Call, error) {
	if err := s.fail("insert", c.ID); err != nil {
		return Call{}, err
	}
	if err := validateNew(c); err != nil {
		return Call{}, err
	}
	s.mu.Lock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, exists := s.calls[c.ID]; exists {
		s.mu.Unlock()
		return Call{}, ErrConflict
	}
	now := s.clock().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastAttempt.IsZero() {
		c.LastAttempt = c.CreatedAt
	}
	if c.AttemptCount == 0 {
		c.AttemptCount = 1
	}
	c.UpdatedAt = now
	s.calls[c.ID] = c
	subs := s.subscribersLocked(c.ID)
	s.mu.Unlock()

	deliver(subs, c)
	return c, nil
}

func (s *MemoryStore) Patch(ctx context.Context, id string, p Patch) (Call, error) {
	if err := s.fail("patch", id); err != nil {
		return Call{}, err
	}
	s.mu.Lock()
	c, ok := s.calls[id]
	if !ok {
		s.mu.Unlock()
		return Call{}, ErrNotFound
	}
	if p.ExpectStatus != nil && c.Status != *p.ExpectStatus {
		s.mu.Unlock()
		return Call{}, ErrConflict
	}
	c = p.Apply(c)
	c.UpdatedAt = s.clock().UTC()
	s.calls[id] = c
	subs := s.subscribersLocked(id)
	s.mu.Unlock()

	deliver(subs, c)
	return c, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := s.fail("delete", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[id]; !ok {
		return ErrNotFound
	}
	delete(s.calls, id)
	for sub := range s.subs[id] {
		sub.closeLocked()
	}
	delete(s.subs, id)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, id string) (Subscription, error) {
	if err := s.fail("subscribe", id); err != nil {
		return nil, err
	}
	sub := &memorySub{store: s, id: id, ch: make(chan Call, 16)}
	s.mu.Lock()
	if s.subs[id] == nil {
		s.subs[id] = map[*memorySub]struct{}{}
	}
	s.subs[id][sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

// Subscribers returns how many live subscriptions exist for id.
func (s *MemoryStore) Subscribers(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[id])
}

// DropSubscriptions ends every stream for id, as a broken connection would.
func (s *MemoryStore) DropSubscriptions(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs[id] {
		sub.closeLocked()
	}
	delete(s.subs, id)
}

func (s *MemoryStore) subscribersLocked(id string) []*memorySub {
	out := make([]*memorySub, 0, len(s.subs[id]))
	for sub := range s.subs[id] {
		out = append(out, sub)
	}
	return out
}

func deliver(subs []*memorySub, c Call) {
	for _, sub := range subs {
		sub.send(c)
	}
}

type memorySub struct {
	store *MemoryStore
	id    string

	mu     sync.Mutex
	ch     chan Call
	closed bool
}

func (m *memorySub) Updates() <-chan Call { return m.ch }

func (m *memorySub) send(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.ch <- c:
	default:
		// Slow reader: drop the oldest pending update so the newest state wins.
		select {
		case <-m.ch:
		default:
		}
		m.ch <- c
	}
}

func (m *memorySub) Close() error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if set := m.store.subs[m.id]; set != nil {
		delete(set, m)
		if len(set) == 0 {
			delete(m.store.subs, m.id)
		}
	}
	m.closeLocked()
	return nil
}

// closeLocked requires the store mutex.
func (m *memorySub) closeLocked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}
