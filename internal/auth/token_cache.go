package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/raylabs/chatcore/internal/config"
	"github.com/raylabs/chatcore/internal/domain"
	"github.com/raylabs/chatcore/internal/metrics"
)

// Credential is a short-lived bearer token. Never persisted.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// ProviderFunc fetches a fresh credential from the identity provider.
type ProviderFunc func(ctx context.Context) (Credential, error)

// TokenCache caches a credential and re-fetches only when it is within the
// safety margin of expiry. Concurrent callers during a fetch share the same
// in-flight provider call.
type TokenCache struct {
	provider ProviderFunc
	ttl      time.Duration
	margin   time.Duration

	mu    sync.RWMutex
	cred  Credential
	group singleflight.Group
}

func NewTokenCache(provider ProviderFunc, ttl time.Duration) *TokenCache {
	return &TokenCache{
		provider: provider,
		ttl:      ttl,
		margin:   config.TokenSafetyMargin,
	}
}

// Get returns a valid credential, fetching one if the cached credential is
// missing or about to expire. A provider failure or empty token is reported
// as ErrAuthUnavailable; the cache stays usable for later sends.
func (c *TokenCache) Get(ctx context.Context) (Credential, error) {
	if cred, ok := c.cached(); ok {
		return cred, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		// A racer may have refreshed while we waited on the group.
		if cred, ok := c.cached(); ok {
			return cred, nil
		}

		metrics.TokenFetches.Inc()
		cred, err := c.provider(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuthUnavailable, err)
		}
		if cred.Token == "" {
			return nil, fmt.Errorf("%w: provider returned empty token", domain.ErrAuthUnavailable)
		}
		if cred.ExpiresAt.IsZero() {
			cred.ExpiresAt = time.Now().Add(c.ttl)
		}

		c.mu.Lock()
		c.cred = cred
		c.mu.Unlock()
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// Invalidate drops the cached credential so the next Get re-fetches.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.cred = Credential{}
	c.mu.Unlock()
}

// StaticProvider adapts a pre-issued token into a ProviderFunc. Used when
// the identity provider exchange happens outside the process.
func StaticProvider(token string) ProviderFunc {
	return func(ctx context.Context) (Credential, error) {
		return Credential{Token: token}, nil
	}
}

func (c *TokenCache) cached() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cred.Token == "" || !time.Now().Before(c.cred.ExpiresAt.Add(-c.margin)) {
		return Credential{}, false
	}
	return c.cred, true
}
