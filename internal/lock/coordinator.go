// Package lock serialises booking work per screening through a shared key-value store.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNilClient is returned by coordinators constructed without a store client.
var ErrNilClient = errors.New("lock store client is nil")

// Coordinator is the minimal store contract the lock manager needs.
//
// TryAcquire returns (true, nil) when key was set to token, (false, nil) when another
// owner holds it and (false, err) when the outcome is unknown.
// Release deletes key only while it still holds token.
type Coordinator interface {
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
	Ping(ctx context.Context) error
}
