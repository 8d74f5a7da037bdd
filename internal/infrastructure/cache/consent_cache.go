package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adminsuite/governance-backend/internal/domain/consent"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// CachedDecision is the cached outcome of a consent check: the latest
// decision for one (subject, purpose) pair. Expiry of the underlying
// grant is evaluated at read time, not cache time, so an entry cached
// while granted cannot outlive the grant itself.
type CachedDecision struct {
	SubjectID string          `json:"subject_id"`
	Purpose   consent.Purpose `json:"purpose"`
	Granted   bool            `json:"granted"`
	Version   int             `json:"version"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	CachedAt  time.Time       `json:"cached_at"`
}

// GrantedAt reports whether the cached decision still grants consent
// at the given instant.
func (d CachedDecision) GrantedAt(now time.Time) bool {
	if !d.Granted {
		return false
	}
	if d.ExpiresAt != nil && !now.Before(*d.ExpiresAt) {
		return false
	}
	return true
}

// ConsentCache keeps recent consent decisions close to the check path.
// A miss or any Redis failure is answered with (nil, nil) or an
// internal error; callers must treat both as "ask the repository", so
// a broken cache can only slow checks down, never change their answer.
type ConsentCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewConsentCache creates a consent decision cache with the given TTL.
func NewConsentCache(client *redis.Client, ttl time.Duration) *ConsentCache {
	return &ConsentCache{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves the cached decision for a pair. A miss returns
// (nil, nil).
func (c *ConsentCache) Get(ctx context.Context, subjectID string, purpose consent.Purpose) (*CachedDecision, error) {
	data, err := c.client.Get(ctx, c.key(subjectID, purpose)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.NewInternalError("consent cache read failed").WithCause(err)
	}

	var cached CachedDecision
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, errors.NewInternalError("cached consent decision is malformed").WithCause(err)
	}
	return &cached, nil
}

// Put stores the decision under the cache TTL.
func (c *ConsentCache) Put(ctx context.Context, decision CachedDecision) error {
	decision.CachedAt = time.Now()
	data, err := json.Marshal(decision)
	if err != nil {
		return errors.NewInternalError("failed to marshal consent decision").WithCause(err)
	}

	key := c.key(decision.SubjectID, decision.Purpose)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return errors.NewInternalError("consent cache write failed").WithCause(err)
	}
	return nil
}

// Invalidate drops the cached decision for one pair. Called on every
// recorded decision so a stale grant never outlives a revocation.
func (c *ConsentCache) Invalidate(ctx context.Context, subjectID string, purpose consent.Purpose) error {
	if err := c.client.Del(ctx, c.key(subjectID, purpose)).Err(); err != nil {
		return errors.NewInternalError("consent cache invalidation failed").WithCause(err)
	}
	return nil
}

// InvalidateSubject drops every purpose for a subject in one round
// trip. Erasure uses this before touching the registry.
func (c *ConsentCache) InvalidateSubject(ctx context.Context, subjectID string) error {
	pipe := c.client.Pipeline()
	for _, purpose := range consent.AllPurposes() {
		pipe.Del(ctx, c.key(subjectID, purpose))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewInternalError("consent cache invalidation failed").WithCause(err)
	}
	return nil
}

func (c *ConsentCache) key(subjectID string, purpose consent.Purpose) string {
	return fmt.Sprintf("govern:consent:%s:%s", subjectID, purpose)
}
