package cache

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/warp/finance-engine/ledger"
)

// Status annotates a read-through result.
type Status string

const (
	Hit  Status = "HIT"
	Miss Status = "MISS"
)

// Request identifies one cacheable read.
type Request struct {
	Endpoint string
	User     ledger.UserID
	Params   url.Values
}

// ReadThrough returns the cached value for req or computes, stores and
// returns a fresh one. A "refresh" param skips the lookup but still stores
// the result. An entry that no longer decodes into T is recomputed.
func ReadThrough[T any](ctx context.Context, c *Cache, req Request, compute func(context.Context) (T, error)) (T, Status, error) {
	key := c.Key(req.Endpoint, req.User, req.Params)
	refresh := IsRefresh(req.Params)

	if !refresh {
		if b, ok := c.get(ctx, key); ok {
			var v T
			if err := json.Unmarshal(b, &v); err == nil {
				c.metrics.CacheLookup(req.Endpoint, "hit")
				return v, Hit, nil
			}
			c.logger.Warn("discarding undecodable cache entry", "key", key)
		}
		c.metrics.CacheLookup(req.Endpoint, "miss")
	} else {
		c.metrics.CacheLookup(req.Endpoint, "bypass")
	}

	v, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, Miss, err
	}

	if b, err := json.Marshal(v); err == nil {
		c.set(ctx, key, b)
	} else {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
	}
	return v, Miss, nil
}
