package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryCoordinator keeps locks in process. Used in tests, single-node runs and as the
// failover target when Redis is down.
type MemoryCoordinator struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		locks: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (c *MemoryCoordinator) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.locks[key]; ok && now.Before(entry.expiresAt) {
		return false, nil
	}
	c.locks[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (c *MemoryCoordinator) Release(_ context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.locks[key]; ok && entry.token == token {
		delete(c.locks, key)
	}
	return nil
}

func (c *MemoryCoordinator) Ping(context.Context) error {
	return nil
}

// Holder returns the live token for key, if any.
func (c *MemoryCoordinator) Holder(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.locks[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.token, true
}
