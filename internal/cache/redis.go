package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared cache tier backed by a Redis instance, grounded
// on fallback_chain.py's redis.Redis tier (GET/SETEX of the generated
// text under a sha256 cache key).
type Redis struct {
	client *redis.Client
}

// NewRedis dials addr/db and returns a Store backed by it. Dialing is
// lazy (go-redis connects on first command), so this never blocks.
func NewRedis(addr string, db int) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
	}
}

// Get returns the cached text for key, treating any Redis error
// (including a miss) as "not found" — a cache-tier failure must never
// propagate as a request failure.
func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Put stores text under key with the given TTL and returns any Redis
// error to the caller.
func (r *Redis) Put(ctx context.Context, key string, text string, ttl time.Duration) error {
	return r.client.Set(ctx, key, text, ttl).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Size reports the database's total key count via DBSIZE. This is an
// approximation when the router's keyspace shares a Redis DB with
// other consumers, since DBSIZE counts every key, not just the
// "llm_cache:" prefix — the best available reading without an O(n)
// KEYS/SCAN pass on every gauge update.
func (r *Redis) Size(ctx context.Context) int {
	n, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
