package pipeline

import (
	"sync"

	"pairstream-go/internal/market"
)

// PriceCache holds the most recent observed price per symbol. The Router is
// the single writer; readers never consume. A bounded update stream lets the
// analytics loop wake on fresh prices without polling the map; when the
// stream is full the update is dropped, which is fine because readers only
// care about the newest value and can always fall back to Latest.
type PriceCache struct {
	mu      sync.RWMutex
	prices  map[string]float64
	updates chan market.Tick
}

// NewPriceCache builds a cache with the given update stream capacity.
func NewPriceCache(buffer int) *PriceCache {
	if buffer <= 0 {
		buffer = 1024
	}
	return &PriceCache{
		prices:  make(map[string]float64, 4),
		updates: make(chan market.Tick, buffer),
	}
}

// Put records the tick's price as the latest for its symbol.
func (c *PriceCache) Put(tick market.Tick) {
	c.mu.Lock()
	c.prices[tick.Symbol] = tick.Price
	c.mu.Unlock()

	select {
	case c.updates <- tick:
	default:
	}
}

// Latest returns the most recent price for a symbol, if one has been seen.
func (c *PriceCache) Latest(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	px, ok := c.prices[symbol]
	return px, ok
}

// Updates exposes the non-blocking update stream.
func (c *PriceCache) Updates() <-chan market.Tick { return c.updates }
