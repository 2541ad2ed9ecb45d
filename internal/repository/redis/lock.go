package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	lockPrefix       = "flowlock:"
	defaultLockTTL   = 45 * time.Second
	lockRetryBackoff = 50 * time.Millisecond
)

// releaseScript deletes the lock only while it still carries our token
var releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// SessionLock serializes turns of the same conversation across server instances.
// The TTL bounds how long a crashed holder can block a session.
type SessionLock struct {
	client *Client
	ttl    time.Duration
}

// NewSessionLock creates a lock whose entries expire after ttl
func NewSessionLock(client *Client, ttl time.Duration) *SessionLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &SessionLock{client: client, ttl: ttl}
}

// Lock blocks until the key is acquired or ctx is done
func (l *SessionLock) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := lockPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.rdb.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, domain.ErrLockTimeout
			}
			return nil, fmt.Errorf("failed to acquire session lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, domain.ErrLockTimeout
		case <-time.After(lockRetryBackoff):
		}
	}

	return func() {
		// Release must happen even when the turn's context is already gone.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := l.client.rdb.Eval(rctx, releaseScript, []string{fullKey}, token).Err(); err != nil {
			log.Warn().Err(err).Str("lock", fullKey).Msg("Failed to release session lock")
		}
	}, nil
}
