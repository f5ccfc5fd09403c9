package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pairstream-go/internal/market"
	"pairstream-go/internal/store"
)

var testTimeframes = []market.Timeframe{
	market.Timeframe(time.Second),
	market.Timeframe(time.Minute),
}

func tickIn(price, size float64, ts int64) market.Tick {
	return market.Tick{Symbol: "BTCUSDT", Price: price, Size: size, Ts: time.UnixMilli(ts)}
}

func TestResampleSingleBucketOHLCV(t *testing.T) {
	mem := store.NewMemory()
	state := NewState()
	rs := NewResampler(mem, state, []market.Timeframe{market.Timeframe(time.Minute)}, false, zerolog.Nop())

	base := time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC).UnixMilli()
	batch := []market.Tick{
		tickIn(101, 2, base+1_000),
		tickIn(99, 1, base+5_000),
		tickIn(107, 3, base+20_000),
		tickIn(104, 4, base+59_000),
	}
	rs.Resample(context.Background(), "BTCUSDT", batch)

	bars, err := mem.Latest(context.Background(), "BTCUSDT", market.Timeframe(time.Minute), 10)
	if err != nil {
		t.Fatalf("Latest returned error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected one bar, got %d", len(bars))
	}
	bar := bars[0]
	if bar.Open != 101 || bar.Close != 104 {
		t.Fatalf("open/close must follow arrival order, got %.0f/%.0f", bar.Open, bar.Close)
	}
	if bar.High != 107 || bar.Low != 99 {
		t.Fatalf("unexpected high/low: %.0f/%.0f", bar.High, bar.Low)
	}
	if bar.Volume != 10 {
		t.Fatalf("expected volume 10, got %.0f", bar.Volume)
	}
	if bar.BucketStart.UnixMilli() != base {
		t.Fatalf("bucket start misaligned: %d vs %d", bar.BucketStart.UnixMilli(), base)
	}
}

func TestResampleEmitsStrictlyIncreasingBuckets(t *testing.T) {
	mem := store.NewMemory()
	state := NewState()
	tf := market.Timeframe(time.Second)
	rs := NewResampler(mem, state, []market.Timeframe{tf}, false, zerolog.Nop())
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	first := []market.Tick{
		tickIn(100, 1, base+100), // bucket 0
		tickIn(101, 1, base+600),
		tickIn(102, 1, base+1_100), // bucket 1, partial
	}
	rs.Resample(ctx, "BTCUSDT", first)

	last, ok := state.LastEmitted("BTCUSDT", tf)
	if !ok || last != base+1_000 {
		t.Fatalf("expected last emitted %d, got %d (ok=%v)", base+1_000, last, ok)
	}

	// Second batch finishes bucket 1 and opens bucket 2. The bucket 1
	// remainder must be suppressed: its start is not strictly greater than
	// the last emitted start.
	second := []market.Tick{
		tickIn(200, 5, base+1_500), // bucket 1 remainder
		tickIn(103, 1, base+2_200), // bucket 2
	}
	rs.Resample(ctx, "BTCUSDT", second)

	bars, err := mem.Latest(ctx, "BTCUSDT", tf, 10)
	if err != nil {
		t.Fatalf("Latest returned error: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i-1].BucketStart.After(bars[i].BucketStart) {
			t.Fatalf("bucket starts not strictly increasing: %+v", bars)
		}
	}
	// bars are descending: bars[1] is bucket 1, from the first batch only.
	if bars[1].Close != 102 || bars[1].Volume != 1 {
		t.Fatalf("bucket 1 must keep the first batch's aggregation, got %+v", bars[1])
	}
}

func TestResampleMergeModeCombinesSplitBucket(t *testing.T) {
	mem := store.NewMemory()
	state := NewState()
	tf := market.Timeframe(time.Second)
	rs := NewResampler(mem, state, []market.Timeframe{tf}, true, zerolog.Nop())
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	rs.Resample(ctx, "BTCUSDT", []market.Tick{
		tickIn(100, 1, base+100),
		tickIn(105, 2, base+400),
	})
	rs.Resample(ctx, "BTCUSDT", []market.Tick{
		tickIn(95, 3, base+700), // same bucket, later fragment
	})

	bars, err := mem.Latest(ctx, "BTCUSDT", tf, 10)
	if err != nil {
		t.Fatalf("Latest returned error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected one merged bar, got %d", len(bars))
	}
	bar := bars[0]
	if bar.Open != 100 || bar.Close != 95 || bar.High != 105 || bar.Low != 95 || bar.Volume != 6 {
		t.Fatalf("unexpected merged bar: %+v", bar)
	}
}

func TestResampleMultipleTimeframes(t *testing.T) {
	mem := store.NewMemory()
	state := NewState()
	rs := NewResampler(mem, state, testTimeframes, false, zerolog.Nop())
	ctx := context.Background()

	// 150 seconds of one tick per second: 150 one-second buckets, 3 minute
	// buckets (the last of each partial).
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC).UnixMilli()
	batch := make([]market.Tick, 0, 150)
	for i := 0; i < 150; i++ {
		batch = append(batch, tickIn(100+float64(i%7), 1, base+int64(i)*1_000))
	}
	rs.Resample(ctx, "BTCUSDT", batch)

	secBars, err := mem.Latest(ctx, "BTCUSDT", market.Timeframe(time.Second), 500)
	if err != nil {
		t.Fatalf("Latest returned error: %v", err)
	}
	if len(secBars) != 150 {
		t.Fatalf("expected 150 second bars, got %d", len(secBars))
	}
	minBars, err := mem.Latest(ctx, "BTCUSDT", market.Timeframe(time.Minute), 500)
	if err != nil {
		t.Fatalf("Latest returned error: %v", err)
	}
	if len(minBars) != 3 {
		t.Fatalf("expected 3 minute bars, got %d", len(minBars))
	}
	// Oldest minute bar covers 60 ticks.
	if minBars[len(minBars)-1].Volume != 60 {
		t.Fatalf("expected full minute volume 60, got %.0f", minBars[len(minBars)-1].Volume)
	}
}

// failingStore rejects every write, standing in for an unreachable database.
type failingStore struct{}

func (failingStore) Upsert(context.Context, market.Bar) error { return errors.New("store down") }
func (failingStore) MergeUpsert(context.Context, market.Bar) error {
	return errors.New("store down")
}
func (failingStore) Latest(context.Context, string, market.Timeframe, int) ([]market.Bar, error) {
	return nil, errors.New("store down")
}

func TestResampleSurvivesStoreFailure(t *testing.T) {
	state := NewState()
	tf := market.Timeframe(time.Second)
	rs := NewResampler(failingStore{}, state, []market.Timeframe{tf}, false, zerolog.Nop())

	base := int64(1_700_000_000_000)
	rs.Resample(context.Background(), "BTCUSDT", []market.Tick{
		tickIn(100, 1, base+100),
		tickIn(101, 1, base+1_200),
	})

	// Dropped writes still advance the emitted watermark; the pipeline keeps
	// running in degraded mode rather than re-emitting stale buckets.
	last, ok := state.LastEmitted("BTCUSDT", tf)
	if !ok || last != base+1_000 {
		t.Fatalf("expected watermark %d, got %d (ok=%v)", base+1_000, last, ok)
	}
}
