package ingest

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultAttemptTTL is how long a query counts as recently attempted.
	DefaultAttemptTTL = 30 * time.Minute
	attemptCacheSize  = 1024
)

// attemptCache remembers queries researched recently so the next-keyword
// step does not bounce between the same few entities. It is owned by one
// Orchestrator and shared by its runs.
type attemptCache struct {
	lru *lru.LRU[string, struct{}]
}

func newAttemptCache(ttl time.Duration) *attemptCache {
	if ttl <= 0 {
		ttl = DefaultAttemptTTL
	}
	return &attemptCache{lru: lru.NewLRU[string, struct{}](attemptCacheSize, nil, ttl)}
}

func (c *attemptCache) mark(q string) {
	if q != "" {
		c.lru.Add(q, struct{}{})
	}
}

// recent uses Get rather than Contains so expired entries not yet purged
// count as absent.
func (c *attemptCache) recent(q string) bool {
	_, ok := c.lru.Get(q)
	return ok
}
