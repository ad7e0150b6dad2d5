package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cinemabooking/internal/config"
	"cinemabooking/internal/domain"
	"cinemabooking/internal/metrics"
	"cinemabooking/internal/models"
	"cinemabooking/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultMaxAttempts    = 5
	defaultReleaseTimeout = 2 * time.Second

	reasonStoreError = "store_error"
	reasonExhausted  = "exhausted"
)

// Manager runs work under a per-resource lock held in a Coordinator.
//
// When every attempt fails with a store error the work runs unlocked (fail-open).
// When the lock stays held for all attempts the work runs unlocked too, unless Strict
// is set, in which case ErrLockUnavailable is returned.
type Manager struct {
	coord          Coordinator
	prefix         string
	ttl            time.Duration
	attempts       int
	backoff        worker.RetryPolicy
	strict         bool
	releaseTimeout time.Duration
	logger         *zerolog.Logger
}

func NewManager(coord Coordinator, cfg config.LockConfig, logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	m := &Manager{
		coord:          coord,
		prefix:         cfg.Prefix,
		ttl:            cfg.TTL,
		attempts:       cfg.MaxAttempts,
		strict:         cfg.Strict,
		releaseTimeout: defaultReleaseTimeout,
		logger:         logger,
		backoff: worker.RetryPolicy{
			MaxRetries:    cfg.MaxAttempts,
			InitialDelay:  cfg.BaseDelay,
			MaxDelay:      cfg.MaxDelay,
			BackoffFactor: 2,
			Jitter:        cfg.Jitter,
		},
	}
	if m.prefix == "" {
		m.prefix = models.DefaultLockPrefix
	}
	if m.ttl <= 0 {
		m.ttl = models.DefaultLockTTL
	}
	if m.attempts <= 0 {
		m.attempts = defaultMaxAttempts
	}
	if m.backoff.InitialDelay <= 0 {
		m.backoff.InitialDelay = 100 * time.Millisecond
	}
	return m
}

// Key is the store key guarding resourceID.
func (m *Manager) Key(resourceID int64) string {
	return m.prefix + strconv.FormatInt(resourceID, 10)
}

func (m *Manager) ExecuteWithLock(ctx context.Context, resourceID int64, work func(ctx context.Context) error) error {
	key := m.Key(resourceID)
	token := uuid.NewString()
	log := m.logger.With().Str("lock_key", key).Logger()

	start := time.Now()
	storeErrors := 0
	var lastErr error

	for attempt := 1; attempt <= m.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Transient("lock wait cancelled", err)
		}

		acquired, err := m.coord.TryAcquire(ctx, key, token, m.ttl)
		switch {
		case err != nil:
			storeErrors++
			lastErr = err
			metrics.IncLockAcquire("error")
			log.Debug().Err(err).Int("attempt", attempt).Msg("lock store error")
		case acquired:
			metrics.IncLockAcquire("acquired")
			metrics.ObserveLockWait(time.Since(start))
			log.Debug().Int("attempt", attempt).Msg("lock acquired")
			return m.runLocked(ctx, key, token, work)
		default:
			metrics.IncLockAcquire("held")
			log.Debug().Int("attempt", attempt).Msg("lock held by another owner")
		}

		if attempt < m.attempts {
			if err := worker.Sleep(ctx, m.backoff.DelayWithJitter(attempt)); err != nil {
				return domain.Transient("lock wait cancelled", err)
			}
		}
	}
	metrics.ObserveLockWait(time.Since(start))

	if storeErrors == m.attempts {
		metrics.IncLockFailOpen(reasonStoreError)
		log.Warn().Err(lastErr).Str("reason", reasonStoreError).Msg("lock store unavailable, running without lock")
		return work(ctx)
	}

	if m.strict {
		log.Warn().Str("reason", reasonExhausted).Msg("lock not acquired, rejecting")
		return domain.ErrLockUnavailable
	}

	metrics.IncLockFailOpen(reasonExhausted)
	log.Warn().Str("reason", reasonExhausted).Int("store_errors", storeErrors).Msg("lock not acquired, running without lock")
	return work(ctx)
}

func (m *Manager) runLocked(ctx context.Context, key, token string, work func(ctx context.Context) error) error {
	defer m.release(ctx, key, token)
	return work(ctx)
}

func (m *Manager) release(parent context.Context, key, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.releaseTimeout)
	defer cancel()

	if err := m.coord.Release(ctx, key, token); err != nil {
		m.logger.Warn().Err(err).Str("lock_key", key).Msg("lock release failed, key will expire")
		return
	}
	m.logger.Debug().Str("lock_key", key).Msg("lock released")
}

// Healthy pings the underlying store.
func (m *Manager) Healthy(ctx context.Context) error {
	if err := m.coord.Ping(ctx); err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	return nil
}
