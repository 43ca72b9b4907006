// Package cache implements the response-cache fallback tier that sits
// behind the configured backend fallback chain: once every backend has
// failed, the fallback router consults Store before giving up with a
// degraded reply. Grounded on fallback_chain.py's Redis-backed cache
// tier.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Store is the minimal cache contract the fallback router depends on.
// Both the in-process LRU implementation and the Redis-backed one
// satisfy it, so the router is agnostic to which backs it.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key string, text string, ttl time.Duration) error
	// Size reports the current number of entries held by the store,
	// exposed through the metrics exporter's cache_size gauge. A store
	// that cannot report an exact count returns its best available
	// approximation.
	Size(ctx context.Context) int
	Close() error
}

// Key builds the deterministic cache key for a generation request,
// grounded on fallback_chain.py._get_cache_key: a hash of the prompt
// (truncated, since very long prompts shouldn't blow up key size) and
// the sampling parameters that affect the output.
func Key(prompt string, maxTokens int, temperature, topP float64) string {
	if len(prompt) > 1000 {
		prompt = prompt[:1000]
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%g|%g", prompt, maxTokens, temperature, topP)
	return "llm_cache:" + hex.EncodeToString(h.Sum(nil))
}
