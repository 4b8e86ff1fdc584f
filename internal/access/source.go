package access

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/raulk/clock"
)

// CachedSource remembers positive answers from a slower source, such as the ledger, for ttl.
// Misses are never cached, and a cached verification older than maxAge is looked up again,
// so a fresh verification is seen on the next request.
type CachedSource struct {
	next   VerificationSource
	cache  *cache.Cache
	maxAge time.Duration
	clock  clock.Clock
}

func NewCachedSource(next VerificationSource, ttl, maxAge time.Duration, c clock.Clock) *CachedSource {
	return &CachedSource{next: next, cache: cache.New(ttl, 2*ttl), maxAge: maxAge, clock: c}
}

func (c *CachedSource) LatestVerification(ctx context.Context, principal string, orgID uint32) (time.Time, bool, error) {
	key := formatID(orgID) + "/" + principal
	if v, ok := c.cache.Get(key); ok {
		at := v.(time.Time)
		if c.clock.Now().Sub(at) <= c.maxAge {
			return at, true, nil
		}
		c.cache.Delete(key)
	}
	at, found, err := c.next.LatestVerification(ctx, principal, orgID)
	if err != nil || !found {
		return at, found, err
	}
	c.cache.SetDefault(key, at)
	return at, true, nil
}
