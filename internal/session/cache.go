package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// cache is a TTL cache with stale-while-revalidate. A nil session is a
// negative entry.
type cache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	session    *Session
	expiresAt  time.Time
	refreshing atomic.Bool
}

type cacheResult struct {
	Session      *Session
	Hit          bool
	NeedsRefresh bool // only one caller per stale entry sees true
}

func newCache(ttl time.Duration) *cache {
	return &cache{ttl: ttl, now: time.Now}
}

func (c *cache) get(id string) cacheResult {
	val, ok := c.store.Load(id)
	if !ok {
		return cacheResult{}
	}
	entry := val.(*cacheEntry)
	if c.now().Before(entry.expiresAt) {
		return cacheResult{Session: entry.session, Hit: true}
	}
	return cacheResult{
		Session:      entry.session,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

func (c *cache) set(id string, s *Session) {
	c.store.Store(id, &cacheEntry{session: s, expiresAt: c.now().Add(c.ttl)})
}

func (c *cache) delete(id string) {
	c.store.Delete(id)
}
