package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultRecoveryInterval = time.Minute

// FailoverCoordinator serves from primary and degrades to fallback once primary errors.
// The primary is retried after the recovery interval.
type FailoverCoordinator struct {
	primary  Coordinator
	fallback Coordinator
	logger   *zerolog.Logger
	recovery time.Duration

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverCoordinator(primary, fallback Coordinator, logger *zerolog.Logger) *FailoverCoordinator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverCoordinator{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		recovery: defaultRecoveryInterval,
		now:      time.Now,
	}
}

// Degraded reports whether calls currently go to the fallback.
func (c *FailoverCoordinator) Degraded() bool {
	return c.isDown.Load()
}

func (c *FailoverCoordinator) markDown(err error) {
	c.mu.Lock()
	c.lastCheck = c.now()
	c.mu.Unlock()
	if c.isDown.CompareAndSwap(false, true) {
		c.logger.Error().Err(err).Msg("Primary lock store failed, falling back to local locks")
	}
}

// shouldTryPrimary is true when primary is healthy or the recovery interval has passed.
func (c *FailoverCoordinator) shouldTryPrimary() bool {
	if !c.isDown.Load() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Sub(c.lastCheck) > c.recovery {
		c.lastCheck = c.now()
		return true
	}
	return false
}

func (c *FailoverCoordinator) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if c.shouldTryPrimary() {
		ok, err := c.primary.TryAcquire(ctx, key, token, ttl)
		if err == nil {
			if c.isDown.CompareAndSwap(true, false) {
				c.logger.Info().Msg("Primary lock store recovered")
			}
			return ok, nil
		}
		c.markDown(err)
	}
	return c.fallback.TryAcquire(ctx, key, token, ttl)
}

// Release is sent to both stores; the token check makes the extra delete harmless.
func (c *FailoverCoordinator) Release(ctx context.Context, key, token string) error {
	fallbackErr := c.fallback.Release(ctx, key, token)
	if err := c.primary.Release(ctx, key, token); err != nil {
		if c.isDown.Load() {
			return fallbackErr
		}
		return err
	}
	return fallbackErr
}

func (c *FailoverCoordinator) Ping(ctx context.Context) error {
	return c.primary.Ping(ctx)
}
