package clientcache

import (
	"sync"

	"github.com/dreadwing5/Restore/internal/domain"
)

// Update is delivered to subscribers whenever a basket entry changes.
// Present is false once the entry has been removed.
type Update struct {
	Basket  domain.Basket
	Present bool
}

// Cache is the client-side mirror of baskets, keyed by basket id. Values are
// copied on the way in and out, so a published basket is never mutated.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]domain.Basket
	subs    map[string]map[chan Update]struct{}
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]domain.Basket),
		subs:    make(map[string]map[chan Update]struct{}),
	}
}

func (c *Cache) Get(basketID string) (domain.Basket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[basketID]
	if !ok {
		return domain.Basket{}, false
	}
	return b.Clone(), true
}

// Publish replaces the entry for basketID.
func (c *Cache) Publish(basketID string, basket domain.Basket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := basket.Clone()
	c.entries[basketID] = stored
	c.notify(basketID, Update{Basket: stored, Present: true})
}

func (c *Cache) Remove(basketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[basketID]; !ok {
		return
	}
	delete(c.entries, basketID)
	c.notify(basketID, Update{})
}

// Subscribe returns a channel that always holds the latest update for
// basketID. Slow readers skip intermediate values. cancel closes the channel.
func (c *Cache) Subscribe(basketID string) (<-chan Update, func()) {
	ch := make(chan Update, 1)

	c.mu.Lock()
	if c.subs[basketID] == nil {
		c.subs[basketID] = make(map[chan Update]struct{})
	}
	c.subs[basketID][ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[basketID], ch)
			if len(c.subs[basketID]) == 0 {
				delete(c.subs, basketID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// notify must be called with c.mu held; it is the only sender on each channel.
func (c *Cache) notify(basketID string, u Update) {
	for ch := range c.subs[basketID] {
		select {
		case <-ch:
		default:
		}
		u := u
		u.Basket = u.Basket.Clone()
		ch <- u
	}
}
