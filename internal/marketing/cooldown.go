package marketing

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/teashop/storefront/internal/clock"
)

const (
	// DefaultCooldownTTL is how long a successful execution suppresses repeats.
	DefaultCooldownTTL = time.Hour
	// defaultPruneThreshold is the entry count that triggers a sweep.
	defaultPruneThreshold = 10000
)

// CooldownCache remembers the last successful execution per (trigger, user).
// It is process-local and does not survive restarts; two near-simultaneous
// events for the same pair can both pass Active before either is marked.
//
// Entry age is judged against the injected clock. The underlying go-cache
// expiration only bounds memory and runs without a janitor goroutine;
// expired entries are swept when the cache grows past the prune threshold.
type CooldownCache struct {
	items          *cache.Cache
	ttl            time.Duration
	pruneThreshold int
	clock          clock.Clock
}

// NewCooldownCache creates a cache. Non-positive arguments fall back to defaults.
func NewCooldownCache(ttl time.Duration, pruneThreshold int, clk clock.Clock) *CooldownCache {
	if ttl <= 0 {
		ttl = DefaultCooldownTTL
	}
	if pruneThreshold <= 0 {
		pruneThreshold = defaultPruneThreshold
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &CooldownCache{
		items:          cache.New(ttl, 0),
		ttl:            ttl,
		pruneThreshold: pruneThreshold,
		clock:          clk,
	}
}

func cooldownKey(triggerID, userID uint) string {
	return strconv.FormatUint(uint64(triggerID), 10) + ":" + strconv.FormatUint(uint64(userID), 10)
}

// Active reports whether the pair succeeded less than TTL ago.
func (c *CooldownCache) Active(triggerID, userID uint) bool {
	v, ok := c.items.Get(cooldownKey(triggerID, userID))
	if !ok {
		return false
	}
	last, ok := v.(time.Time)
	if !ok {
		return false
	}
	return c.clock.Now().Sub(last) < c.ttl
}

// Mark records a successful execution now.
func (c *CooldownCache) Mark(triggerID, userID uint) {
	c.items.Set(cooldownKey(triggerID, userID), c.clock.Now(), c.ttl)
	if c.items.ItemCount() > c.pruneThreshold {
		c.Prune()
	}
}

// Prune removes entries older than the TTL and returns how many remain.
func (c *CooldownCache) Prune() int {
	c.items.DeleteExpired()
	now := c.clock.Now()
	for key, item := range c.items.Items() {
		last, ok := item.Object.(time.Time)
		if !ok || now.Sub(last) >= c.ttl {
			c.items.Delete(key)
		}
	}
	return c.items.ItemCount()
}

// Len returns the number of entries, including ones not yet swept.
func (c *CooldownCache) Len() int {
	return c.items.ItemCount()
}

// TTL returns the cooldown window.
func (c *CooldownCache) TTL() time.Duration {
	return c.ttl
}
