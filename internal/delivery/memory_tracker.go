package delivery

import (
	"context"
	"sync"
	"time"

	"shop-assistant/internal/domain"
)

// MemoryTracker is an in-process Tracker. Records older than the TTL are
// pruned on write, and the oldest records are dropped once the cap is hit.
type MemoryTracker struct {
	ttl        time.Duration
	maxRecords int
	now        func() time.Time

	mu      sync.Mutex
	records map[string]domain.DeliveryRecord
}

type Option func(*MemoryTracker)

// WithTTL prunes records created more than d ago. Zero keeps records forever.
func WithTTL(d time.Duration) Option {
	return func(t *MemoryTracker) { t.ttl = d }
}

// WithMaxRecords caps the number of records held. Zero means unbounded.
func WithMaxRecords(n int) Option {
	return func(t *MemoryTracker) { t.maxRecords = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *MemoryTracker) { t.now = now }
}

func NewMemoryTracker(opts ...Option) *MemoryTracker {
	t := &MemoryTracker{
		now:     time.Now,
		records: make(map[string]domain.DeliveryRecord),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *MemoryTracker) Record(_ context.Context, id, recipient string, chunk, totalChunks int) error {
	now := t.now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[id]; !exists {
		t.makeRoom(now)
	}
	t.records[id] = domain.DeliveryRecord{
		ID:          id,
		Recipient:   recipient,
		Status:      domain.StatusSent,
		CreatedAt:   now,
		UpdatedAt:   now,
		Chunk:       chunk,
		TotalChunks: totalChunks,
	}
	return nil
}

func (t *MemoryTracker) UpdateStatus(_ context.Context, id string, status domain.DeliveryStatus, errorCode, errorMessage string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.UpdatedAt = t.now().UTC()
	if errorCode != "" {
		rec.ErrorCode = errorCode
		rec.ErrorMessage = errorMessage
	}
	t.records[id] = rec
	return nil
}

func (t *MemoryTracker) Get(_ context.Context, id string) (domain.DeliveryRecord, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	return rec, ok, nil
}

func (t *MemoryTracker) Stats(_ context.Context, recipient string) (domain.DeliveryStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stats domain.DeliveryStats
	for _, rec := range t.records {
		if recipient != "" && rec.Recipient != recipient {
			continue
		}
		stats.Add(rec.Status)
	}
	return stats, nil
}

// Len reports the number of records held.
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// makeRoom prunes expired records and, at the cap, the oldest ones. Caller holds mu.
func (t *MemoryTracker) makeRoom(now time.Time) {
	if t.ttl > 0 {
		for id, rec := range t.records {
			if now.Sub(rec.CreatedAt) > t.ttl {
				delete(t.records, id)
			}
		}
	}
	if t.maxRecords <= 0 {
		return
	}
	for len(t.records) >= t.maxRecords {
		var (
			oldestID string
			oldest   time.Time
			found    bool
		)
		for id, rec := range t.records {
			if !found || rec.CreatedAt.Before(oldest) {
				oldestID, oldest, found = id, rec.CreatedAt, true
			}
		}
		delete(t.records, oldestID)
	}
}
