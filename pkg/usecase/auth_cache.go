package usecase

import (
	"sync"
	"time"
)

const (
	authCacheTTL = 5 * time.Minute
)

type cachedUser struct {
	userID    string
	expiresAt time.Time
}

// authCache remembers verified tokens so that repeated requests skip signature checks
type authCache struct {
	cache sync.Map
}

func newAuthCache() *authCache {
	return &authCache{}
}

func (c *authCache) get(token string) (string, bool) {
	val, ok := c.cache.Load(token)
	if !ok {
		return "", false
	}

	cached := val.(*cachedUser)
	if time.Now().After(cached.expiresAt) {
		c.cache.Delete(token)
		return "", false
	}

	return cached.userID, true
}

// set caches until the token expires or authCacheTTL passes, whichever is first
func (c *authCache) set(token, userID string, exp time.Time) {
	expiresAt := time.Now().Add(authCacheTTL)
	if !exp.IsZero() && exp.Before(expiresAt) {
		expiresAt = exp
	}
	c.cache.Store(token, &cachedUser{userID: userID, expiresAt: expiresAt})
}
