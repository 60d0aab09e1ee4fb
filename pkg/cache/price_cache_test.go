package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCacheKeepsNewest(t *testing.T) {
	c := NewPriceCache()
	t0 := time.Unix(1700000000, 0)

	c.Set("BTCUSDT", 100, t0)
	c.Set("BTCUSDT", 101, t0.Add(time.Second))
	c.Set("BTCUSDT", 99, t0.Add(500*time.Millisecond))

	q, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 101.0, q.Price)
	assert.Equal(t, t0.Add(time.Second), q.At)

	_, ok = c.Get("ETHUSDT")
	assert.False(t, ok)
}

func TestPriceCacheRetainAndSnapshot(t *testing.T) {
	c := NewPriceCache()
	now := time.Now()
	for i, s := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		c.Set(s, float64(i+1), now)
	}
	require.Equal(t, 3, c.Len())

	assert.Equal(t, 1, c.Retain([]string{"BTCUSDT", "SOLUSDT"}))
	assert.Equal(t, 2, c.Len())

	snap := c.Snapshot([]string{"BTCUSDT", "ETHUSDT"})
	assert.Len(t, snap, 1)
	assert.Equal(t, 1.0, snap["BTCUSDT"].Price)

	c.Delete("BTCUSDT")
	assert.Equal(t, 1, c.Len())
}

func TestPriceCacheConcurrentWriters(t *testing.T) {
	c := NewPriceCache()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Set(fmt.Sprintf("SYM%d", i%20), float64(w), time.Now())
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 20, c.Len())
}
