package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
	"github.com/angelmondragon/escrowhub-backend/pkg/redis"
)

const (
	lockScope        = "contract"
	defaultLockTTL   = 30 * time.Second
	lockAttempts     = 5
	lockRetryBackoff = 50 * time.Millisecond
)

// Locker serializes escrow operations per contract across API instances.
type Locker interface {
	Acquire(ctx context.Context, contractID uuid.UUID) (func(), error)
}

type redisLocker struct {
	store redis.LockStore
	ttl   time.Duration
	logg  *logger.Logger
}

// NewRedisLocker uses SET NX with an owner token; release is compare-and-delete.
func NewRedisLocker(store redis.LockStore, ttl time.Duration, logg *logger.Logger) Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &redisLocker{store: store, ttl: ttl, logg: logg}
}

func (l *redisLocker) Acquire(ctx context.Context, contractID uuid.UUID) (func(), error) {
	key := l.store.LockKey(lockScope, contractID.String())
	owner := uuid.NewString()

	for attempt := 0; attempt < lockAttempts; attempt++ {
		ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire contract lock")
		}
		if ok {
			return func() {
				// The caller's context may already be cancelled.
				if _, err := l.store.ReleaseIfOwner(context.Background(), key, owner); err != nil && l.logg != nil {
					l.logg.Warn(l.logg.WithField(ctx, "lock_key", key), "release contract lock failed")
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "acquire contract lock")
		case <-time.After(lockRetryBackoff * time.Duration(attempt+1)):
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "contract is busy, retry shortly").
		WithDetails(map[string]any{"contractId": contractID.String()})
}
