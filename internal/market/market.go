// Package market standardizes payloads shared between ingestion, resampling,
// storage, and the analytics layer.
package market

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tick models a single trade event as normalized by the feed layer.
// Immutable once created.
type Tick struct {
	Symbol string
	Price  float64
	Size   float64
	Ts     time.Time
}

// Timeframe is a fixed bucket width used to aggregate ticks into bars.
// Widths below one second are legal; bucket math is done in milliseconds.
type Timeframe time.Duration

// Duration returns the bucket width as a time.Duration.
func (tf Timeframe) Duration() time.Duration { return time.Duration(tf) }

// Millis returns the bucket width in milliseconds.
func (tf Timeframe) Millis() int64 { return int64(time.Duration(tf) / time.Millisecond) }

// Label renders the wire form of the timeframe ("1s", "1m", "5m", "500ms").
func (tf Timeframe) Label() string {
	d := time.Duration(tf)
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	case d < time.Minute:
		return fmt.Sprintf("%ds", d/time.Second)
	case d < time.Hour:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%dh", d/time.Hour)
	}
}

// ParseTimeframe reads a wire label back into a Timeframe.
func ParseTimeframe(label string) (Timeframe, error) {
	d, err := time.ParseDuration(label)
	if err != nil {
		return 0, fmt.Errorf("parse timeframe %q: %w", label, err)
	}
	if d < time.Millisecond {
		return 0, fmt.Errorf("timeframe %q below 1ms resolution", label)
	}
	return Timeframe(d), nil
}

// BucketStart floors ts onto the left-aligned bucket boundary for this width.
func (tf Timeframe) BucketStart(ts time.Time) time.Time {
	w := tf.Millis()
	ms := ts.UnixMilli()
	start := (ms / w) * w
	if ms < 0 && ms%w != 0 {
		start -= w
	}
	return time.UnixMilli(start).UTC()
}

// Bar is an OHLCV summary of all ticks inside one bucket. At most one bar
// exists per (symbol, timeframe, bucket start); later writes replace earlier
// ones at the store.
type Bar struct {
	Symbol      string
	Timeframe   Timeframe
	BucketStart time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// Key renders the uniqueness key, mainly for logging.
func (b Bar) Key() string {
	return fmt.Sprintf("%s/%s/%d", b.Symbol, b.Timeframe.Label(), b.BucketStart.UnixMilli())
}

type wireBar struct {
	Symbol    string  `json:"symbol"`
	Timestamp string  `json:"timestamp"`
	Timeframe string  `json:"timeframe"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// MarshalJSON emits the persisted wire shape: ISO-8601 bucket start plus the
// timeframe label.
func (b Bar) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireBar{
		Symbol:    b.Symbol,
		Timestamp: b.BucketStart.UTC().Format(time.RFC3339Nano),
		Timeframe: b.Timeframe.Label(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	})
}

// UnmarshalJSON reads the wire shape back into a Bar.
func (b *Bar) UnmarshalJSON(data []byte) error {
	var w wireBar
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	tf, err := ParseTimeframe(w.Timeframe)
	if err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("parse bar timestamp: %w", err)
	}
	*b = Bar{
		Symbol:      w.Symbol,
		Timeframe:   tf,
		BucketStart: ts.UTC(),
		Open:        w.Open,
		High:        w.High,
		Low:         w.Low,
		Close:       w.Close,
		Volume:      w.Volume,
	}
	return nil
}

// Update is the analytics payload broadcast to subscribers.
type Update struct {
	Type         string  `json:"type"`
	ZScore       float64 `json:"z_score"`
	HedgeRatio   float64 `json:"hedge_ratio"`
	LatestSpread float64 `json:"latest_spread"`
	SymbolPair   string  `json:"symbol_pair"`
	Timestamp    string  `json:"timestamp"`
}

// UpdateType is the discriminator carried by every analytics broadcast.
const UpdateType = "analytics_update"
