package tokencache

import (
	"context"
	"sync"
	"time"
)

// FetchFunc obtains a fresh token and how long it stays valid.
type FetchFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

// Cache holds a single bearer token. Concurrent callers share one refresh.
type Cache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	fetch     FetchFunc
	skew      time.Duration
	now       func() time.Time
}

func New(fetch FetchFunc) *Cache {
	return &Cache{
		fetch: fetch,
		skew:  30 * time.Second,
		now:   time.Now,
	}
}

// Token returns the cached token, refreshing it when it is missing or within
// the skew of expiry.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(c.skew).Before(c.expiresAt) {
		return c.token, nil
	}

	token, ttl, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = c.now().Add(ttl)
	return token, nil
}

// Invalidate drops the token, e.g. after the provider answers 401.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// SetClock replaces the time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}
