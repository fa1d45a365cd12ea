// Package cache holds a best-effort, process-local copy of conversation state.
// It is never authoritative: every reader must tolerate stale or missing
// entries and fall back to the durable store.
package cache

import (
	"sync"
	"time"

	"lead-qualifier/internal/domain"
)

const (
	defaultTTL        = 10 * time.Minute
	defaultMaxEntries = 1000
)

type entry struct {
	state   *domain.ConversationState
	stored  time.Time
	expires time.Time
}

// Conversations is a TTL-bounded cache keyed by every known chat id form.
type Conversations struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*entry
	now        func() time.Time
}

// New creates a cache. Non-positive arguments fall back to defaults.
func New(ttl time.Duration, maxEntries int) *Conversations {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Conversations{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
		now:        time.Now,
	}
}

// Get returns a copy of the first live entry found under any of keys.
func (c *Conversations) Get(keys ...string) (*domain.ConversationState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, k := range keys {
		e, ok := c.entries[k]
		if !ok {
			continue
		}
		if !now.Before(e.expires) {
			delete(c.entries, k)
			continue
		}
		return e.state.Clone(), true
	}
	return nil, false
}

// Put stores a copy of state under each key, replacing older entries.
func (c *Conversations) Put(state *domain.ConversationState, keys ...string) {
	if state == nil || len(keys) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e := &entry{state: state.Clone(), stored: now, expires: now.Add(c.ttl)}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, exists := c.entries[k]; !exists && len(c.entries) >= c.maxEntries {
			c.evictLocked(now)
		}
		c.entries[k] = e
	}
}

// Delete drops the given keys.
func (c *Conversations) Delete(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// Len reports the number of keys currently held, expired ones included.
func (c *Conversations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked drops expired keys, or the oldest key when none have expired.
func (c *Conversations) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	removed := false
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			removed = true
			continue
		}
		if oldestKey == "" || e.stored.Before(oldest) {
			oldestKey, oldest = k, e.stored
		}
	}
	if !removed && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
