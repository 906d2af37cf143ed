package session

import (
	"context"
	"sync"
	"time"

	"shop-assistant/internal/domain"
)

// MemoryStore is an in-process Store. Sessions idle longer than the TTL are
// dropped on access, and when the session cap is reached the least recently
// touched session is evicted.
type MemoryStore struct {
	window      int
	ttl         time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*memoryEntry
}

type memoryEntry struct {
	turns   []domain.Turn
	touched time.Time
}

type MemoryOption func(*MemoryStore)

// WithTTL expires sessions that have not been touched for d. Zero disables expiry.
func WithTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = d }
}

// WithMaxSessions caps the number of live sessions. Zero means unbounded.
func WithMaxSessions(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxSessions = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(window int, opts ...MemoryOption) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &MemoryStore{
		window:   window,
		now:      time.Now,
		sessions: make(map[string]*memoryEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return []domain.Turn{}, nil
	}
	out := make([]domain.Turn, len(e.turns))
	copy(out, e.turns)
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, key string, turns ...domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.live(key)
	if !ok {
		s.makeRoom(now)
		e = &memoryEntry{}
		s.sessions[key] = e
	}
	e.turns = Truncate(append(e.turns, turns...), s.window)
	e.touched = now
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
	return nil
}

// Len reports the number of sessions currently held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// live returns the entry for key, deleting it if it has expired. Caller holds mu.
func (s *MemoryStore) live(key string) (*memoryEntry, bool) {
	e, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	if s.expired(e, s.now()) {
		delete(s.sessions, key)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) expired(e *memoryEntry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.touched) > s.ttl
}

// makeRoom frees a slot for a new session. Caller holds mu.
func (s *MemoryStore) makeRoom(now time.Time) {
	if s.maxSessions <= 0 || len(s.sessions) < s.maxSessions {
		return
	}
	for k, e := range s.sessions {
		if s.expired(e, now) {
			delete(s.sessions, k)
		}
	}
	for len(s.sessions) >= s.maxSessions {
		var (
			oldestKey string
			oldest    time.Time
			found     bool
		)
		for k, e := range s.sessions {
			if !found || e.touched.Before(oldest) {
				oldestKey, oldest, found = k, e.touched, true
			}
		}
		delete(s.sessions, oldestKey)
	}
}
