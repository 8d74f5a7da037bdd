package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// Release and refresh must verify the holder token before touching the
// key, otherwise a sweeper that stalled past its TTL could release the
// lock its successor now holds.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// LeaderLock is a Redis-held mutex for singleton background work. The
// retention sweep acquires it so two API replicas cannot both run the
// same sweep; the token ties refresh and release to the acquiring
// holder.
type LeaderLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewLeaderLock creates a lock for the named job.
func NewLeaderLock(client *redis.Client, name string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{
		client: client,
		key:    fmt.Sprintf("govern:lock:%s", name),
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock. It returns false without error
// when another holder has it.
func (l *LeaderLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, errors.NewInternalError("lock acquisition failed").WithCause(err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Refresh extends the TTL while the job is still running. Returns
// false when the lock was lost, which tells the job to stop.
func (l *LeaderLock) Refresh(ctx context.Context) (bool, error) {
	if l.token == "" {
		return false, nil
	}
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, errors.NewInternalError("lock refresh failed").WithCause(err)
	}
	return n == 1, nil
}

// Release gives the lock up. Releasing a lock already lost or expired
// is a no-op.
func (l *LeaderLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int(); err != nil {
		return errors.NewInternalError("lock release failed").WithCause(err)
	}
	return nil
}
