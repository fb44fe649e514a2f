package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultDedupTTL = 10 * time.Minute

// Deduper remembers webhook event ids so redelivered callbacks are applied once.
type Deduper struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewDeduper(rdb *redis.Client, prefix string, ttl time.Duration) *Deduper {
	if prefix == "" {
		prefix = "ivr-tester:event:"
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Deduper{rdb: rdb, prefix: prefix, ttl: ttl}
}

// FirstSeen reports whether id has not been seen within the TTL, marking it
// seen. An empty id is always first seen.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return true, nil
	}
	if d.rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	return d.rdb.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
}
