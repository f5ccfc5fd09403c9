// Package store persists resampled bars. The pipeline only depends on the
// BarStore interface; the document database behind it is swappable.
package store

import (
	"context"

	"pairstream-go/internal/market"
)

// BarStore is the persistence contract for OHLCV bars. At most one bar is
// stored per (symbol, timeframe, bucket start).
type BarStore interface {
	// Upsert writes a bar, replacing any prior value at the same key.
	Upsert(ctx context.Context, bar market.Bar) error

	// MergeUpsert combines the bar with an existing one at the same key:
	// open kept from the earlier write, close taken from this one, high/low
	// extended, volume accumulated. Behaves like Upsert when the key is new.
	MergeUpsert(ctx context.Context, bar market.Bar) error

	// Latest returns up to limit bars for (symbol, timeframe), sorted
	// descending by bucket start.
	Latest(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Bar, error)
}

// Pinger is implemented by stores backed by a remote database.
type Pinger interface {
	Ping(ctx context.Context) error
}

func mergeBars(existing, incoming market.Bar) market.Bar {
	merged := existing
	if incoming.High > merged.High {
		merged.High = incoming.High
	}
	if incoming.Low < merged.Low {
		merged.Low = incoming.Low
	}
	merged.Close = incoming.Close
	merged.Volume += incoming.Volume
	return merged
}
