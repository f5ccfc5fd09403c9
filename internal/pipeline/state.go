// Package pipeline turns the unbounded tick stream into idempotent,
// monotonically advancing OHLCV bars. All process-wide mutable state lives in
// an explicit State value owned by the Router; nothing here is a global.
package pipeline

import (
	"sync"

	"pairstream-go/internal/market"
)

type bucketKey struct {
	symbol string
	tf     market.Timeframe
}

// symbolBuffer accumulates routed ticks for one symbol. The queue holds
// drained batches awaiting resampling; inflight enforces at most one resample
// per symbol at a time so bucket ordering is preserved.
type symbolBuffer struct {
	mu       sync.Mutex
	ticks    []market.Tick
	queue    [][]market.Tick
	inflight bool
}

// State holds the per-symbol tick buffers, the price cache, and the
// last-emitted bucket table shared by the Router/Resampler pair.
type State struct {
	prices *PriceCache

	mu      sync.Mutex
	buffers map[string]*symbolBuffer

	emitMu      sync.Mutex
	lastEmitted map[bucketKey]int64
}

// NewState builds empty pipeline state.
func NewState() *State {
	return &State{
		prices:      NewPriceCache(1024),
		buffers:     make(map[string]*symbolBuffer, 4),
		lastEmitted: make(map[bucketKey]int64, 16),
	}
}

// Prices exposes the cache of most recent prices per symbol.
func (s *State) Prices() *PriceCache { return s.prices }

func (s *State) buffer(symbol string) *symbolBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.buffers[symbol]
	if b == nil {
		b = &symbolBuffer{}
		s.buffers[symbol] = b
	}
	return b
}

// BufferedTicks reports how many ticks are waiting in the live buffer for a
// symbol (drained batches excluded).
func (s *State) BufferedTicks(symbol string) int {
	b := s.buffer(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ticks)
}

// LastEmitted returns the most recent emitted bucket start in epoch
// milliseconds for (symbol, timeframe).
func (s *State) LastEmitted(symbol string, tf market.Timeframe) (int64, bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	start, ok := s.lastEmitted[bucketKey{symbol: symbol, tf: tf}]
	return start, ok
}

func (s *State) setLastEmitted(symbol string, tf market.Timeframe, startMs int64) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.lastEmitted[bucketKey{symbol: symbol, tf: tf}] = startMs
}
