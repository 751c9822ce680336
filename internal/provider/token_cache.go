package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const tokenFetchTimeout = 30 * time.Second

// TokenFetcher obtains a fresh bearer token and its lifetime. A zero lifetime means
// the token does not expire.
type TokenFetcher func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenCache holds one bearer token shared by every caller. Concurrent misses share a
// single fetch.
type TokenCache struct {
	fetch   TokenFetcher
	skew    time.Duration
	timeout time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// NewTokenCache creates a cache that refreshes the token skew before it expires.
func NewTokenCache(fetch TokenFetcher, skew time.Duration) *TokenCache {
	return &TokenCache{fetch: fetch, skew: skew, timeout: tokenFetchTimeout, now: time.Now}
}

func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (any, error) {
		if token, ok := c.cached(); ok {
			return token, nil
		}
		// Waiters share this fetch; it must not inherit the first caller's cancellation.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		token, expiresIn, err := c.fetch(fetchCtx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.token = token
		c.expiresAt = time.Time{}
		if expiresIn > 0 {
			c.expiresAt = c.now().Add(expiresIn - c.skew)
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", false
	}
	if !c.expiresAt.IsZero() && !c.now().Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}
