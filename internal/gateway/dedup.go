package gateway

import (
	"context"
	"sync"
	"time"
)

// DedupStore remembers which protocol events were already processed. The
// agent delivers at-least-once, so the gateway checks here before dispatching
// and marks after the event was applied.
type DedupStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string) error
}

// MemoryDedup is an in-process DedupStore with TTL expiry. Single-instance
// deployments only; a multi-instance deployment needs the Redis store so all
// replicas share one memory.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDedup(ttl time.Duration) *MemoryDedup {
	return &MemoryDedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (d *MemoryDedup) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	expiry, ok := d.seen[key]
	if !ok {
		return false, nil
	}
	if d.now().After(expiry) {
		delete(d.seen, key)
		return false, nil
	}
	return true, nil
}

func (d *MemoryDedup) MarkSeen(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	// Opportunistic purge keeps the map bounded by the retry horizon.
	for k, expiry := range d.seen {
		if now.After(expiry) {
			delete(d.seen, k)
		}
	}
	d.seen[key] = now.Add(d.ttl)
	return nil
}
