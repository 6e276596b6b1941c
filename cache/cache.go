/*
Package cache is the read-through layer in front of the aggregation engine.

PURPOSE:
  Keeps computed aggregates for a short TTL and drops all of a user's
  entries whenever that user's ledger changes.

KEY DERIVATION (key.go):
  {prefix}:u{user}:{endpoint}:{hash of canonical params}
  Params are sorted and the "refresh" flag is excluded, so equal query
  strings in any order share one entry.

AVAILABILITY OVER CACHING:
  A backend failure on Get or Set is logged and treated as a miss. A
  failure on Invalidate is logged and swallowed. Nothing in this package
  returns a backend error to a request handler; only the compute
  function's error propagates from ReadThrough.

BACKENDS:
  Memory: in-process map with expiry, used when no Redis is configured
  Redis:  go-redis, prefix delete via SCAN + UNLINK

SEE ALSO:
  - readthrough.go: generic hit/miss wrapper
  - service/: calls Invalidate after every committed mutation
*/
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/metrics"
)

// DefaultTTL bounds staleness for entries that miss an invalidation.
const DefaultTTL = 600 * time.Second

// DefaultPrefix namespaces this application's keys in a shared backend.
const DefaultPrefix = "beshtash"

// Backend is the key-value store behind the cache.
type Backend interface {
	// Get returns (nil, false, nil) on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix and reports how many.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Cache binds a Backend to a key prefix and TTL.
type Cache struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		prefix:  DefaultPrefix,
		ttl:     DefaultTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// Key derives the key for endpoint under this cache's prefix.
func (c *Cache) Key(endpoint string, user ledger.UserID, params map[string][]string) string {
	return Key(c.prefix, endpoint, user, params)
}

// get never fails: backend errors are logged and reported as a miss.
func (c *Cache) get(ctx context.Context, key string) ([]byte, bool) {
	b, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.metrics.CacheError("get")
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	return b, ok
}

func (c *Cache) set(ctx context.Context, key string, value []byte) {
	if err := c.backend.Set(ctx, key, value, c.ttl); err != nil {
		c.metrics.CacheError("set")
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached entry of user. It never fails; the
// returned bool is false when the backend could not be reached.
func (c *Cache) Invalidate(ctx context.Context, user ledger.UserID) bool {
	prefix := UserPrefix(c.prefix, user)
	n, err := c.backend.DeletePrefix(ctx, prefix)
	c.metrics.CacheInvalidation(err == nil)
	if err != nil {
		c.logger.Warn("cache invalidation failed", "user_id", user, "error", err)
		return false
	}
	c.logger.Debug("cache invalidated", "user_id", user, "keys", n)
	return true
}
