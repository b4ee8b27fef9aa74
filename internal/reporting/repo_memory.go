package reporting

import (
	"context"
	"sync"
	"time"

	"voice-gateway/internal/calls"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	Calls []calls.Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCallsBetween(_ context.Context, from, to time.Time) ([]calls.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Call, 0)
	for _, c := range r.Calls {
		if c.StartTime.Before(from) || !c.StartTime.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
