package store

import (
	"context"
	"sort"
	"sync"

	"pairstream-go/internal/market"
)

type memKey struct {
	symbol string
	tf     market.Timeframe
	start  int64
}

// Memory is an in-process BarStore used in tests and as a degraded fallback
// when the document database is unreachable at startup.
type Memory struct {
	mu   sync.RWMutex
	bars map[memKey]market.Bar
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{bars: make(map[memKey]market.Bar)}
}

func keyOf(bar market.Bar) memKey {
	return memKey{symbol: bar.Symbol, tf: bar.Timeframe, start: bar.BucketStart.UnixMilli()}
}

// Upsert replaces any bar stored at the same key.
func (m *Memory) Upsert(_ context.Context, bar market.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[keyOf(bar)] = bar
	return nil
}

// MergeUpsert combines with the existing bar at the key, if any.
func (m *Memory) MergeUpsert(_ context.Context, bar market.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := keyOf(bar)
	if existing, ok := m.bars[key]; ok {
		m.bars[key] = mergeBars(existing, bar)
		return nil
	}
	m.bars[key] = bar
	return nil
}

// Latest returns up to limit bars sorted descending by bucket start.
func (m *Memory) Latest(_ context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]market.Bar, 0, limit)
	for key, bar := range m.bars {
		if key.symbol == symbol && key.tf == tf {
			out = append(out, bar)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.After(out[j].BucketStart) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports the number of stored bars.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bars)
}
