package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultSessionKey = "ivr-tester:session"

	// DefaultSessionTTL is short so a crashed tester frees the slot quickly;
	// a live session keeps extending it.
	DefaultSessionTTL = 30 * time.Second
)

// releaseScript deletes the key only while it still names the owner.
var releaseScript = redis.NewScript(`
-- KEYS[1] = session key
-- ARGV[1] = owner session id
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only while the key still names the owner.
var refreshScript = redis.NewScript(`
-- KEYS[1] = session key
-- ARGV[1] = owner session id
-- ARGV[2] = ttl_ms
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// SessionCap lets one test call run at a time across every tester process
// sharing a redis. The key holds the owning session id.
type SessionCap struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewSessionCap(rdb *redis.Client, key string, ttl time.Duration) *SessionCap {
	if key == "" {
		key = DefaultSessionKey
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCap{rdb: rdb, key: key, ttl: ttl}
}

// TTL is how long a slot survives without a Refresh.
func (c *SessionCap) TTL() time.Duration { return c.ttl }

func (c *SessionCap) check(sessionID string) error {
	if c.rdb == nil {
		return errors.New("redis client is nil")
	}
	if sessionID == "" {
		return errors.New("session id is required")
	}
	return nil
}

// Acquire takes the slot for sessionID. ok is false when another session holds it.
func (c *SessionCap) Acquire(ctx context.Context, sessionID string) (bool, error) {
	if err := c.check(sessionID); err != nil {
		return false, err
	}
	return c.rdb.SetNX(ctx, c.key, sessionID, c.ttl).Result()
}

// Refresh extends the slot's TTL. ok is false when sessionID no longer owns it.
func (c *SessionCap) Refresh(ctx context.Context, sessionID string) (bool, error) {
	if err := c.check(sessionID); err != nil {
		return false, err
	}
	n, err := refreshScript.Run(ctx, c.rdb, []string{c.key}, sessionID, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh session cap: %w", err)
	}
	return n == 1, nil
}

// Release frees the slot if sessionID still owns it; otherwise it is a no-op.
func (c *SessionCap) Release(ctx context.Context, sessionID string) error {
	if err := c.check(sessionID); err != nil {
		return err
	}
	if _, err := releaseScript.Run(ctx, c.rdb, []string{c.key}, sessionID).Result(); err != nil {
		return fmt.Errorf("release session cap: %w", err)
	}
	return nil
}
