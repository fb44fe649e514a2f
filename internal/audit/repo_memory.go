package audit

import (
	"context"
	"sync"
)

// DefaultMemoryLimit bounds the in-memory trail; oldest events go first.
const DefaultMemoryLimit = 2000

// MemoryRepo keeps the most recent events in memory. Call history is not
// persisted across restarts.
type MemoryRepo struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

func NewMemoryRepo(limit int) *MemoryRepo {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &MemoryRepo{limit: limit}
}

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if over := len(r.events) - r.limit; over > 0 {
		r.events = append(r.events[:0:0], r.events[over:]...)
	}
	return nil
}

func (r *MemoryRepo) List(_ context.Context, sessionID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}
