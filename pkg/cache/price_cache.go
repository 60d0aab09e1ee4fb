package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Quote is the last tick seen for a symbol.
type Quote struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// PriceCache keeps the latest quote per symbol. Keys are spread over shards
// so feed goroutines for different symbols rarely contend.
type PriceCache struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

func NewPriceCache() *PriceCache {
	c := &PriceCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{
			items: make(map[string]Quote),
		}
	}
	return c
}

func (c *PriceCache) getShard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a tick. An older tick never replaces a newer one.
func (c *PriceCache) Set(symbol string, price float64, at time.Time) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	if cur, ok := shard.items[symbol]; !ok || !at.Before(cur.At) {
		shard.items[symbol] = Quote{Price: price, At: at}
	}
	shard.mu.Unlock()
}

func (c *PriceCache) Get(symbol string) (Quote, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	q, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return q, ok
}

// Delete removes a symbol from the cache.
func (c *PriceCache) Delete(symbol string) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	delete(shard.items, symbol)
	shard.mu.Unlock()
}

// Len returns total items across all shards.
func (c *PriceCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Retain drops every symbol not in keep and returns how many were removed.
func (c *PriceCache) Retain(keep []string) int {
	valid := make(map[string]bool, len(keep))
	for _, s := range keep {
		valid[s] = true
	}

	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym := range shard.items {
			if !valid[sym] {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Snapshot returns the quotes of the given symbols that have one.
func (c *PriceCache) Snapshot(symbols []string) map[string]Quote {
	out := make(map[string]Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := c.Get(s); ok {
			out[s] = q
		}
	}
	return out
}
