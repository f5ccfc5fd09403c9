package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"pairstream-go/internal/market"
	"pairstream-go/internal/metrics"
	"pairstream-go/internal/store"
)

const storeWriteTimeout = 5 * time.Second

// Resampler converts drained tick batches into OHLCV bars at every
// configured timeframe and hands completed buckets to the bar store. A
// bucket is emitted only once its start exceeds the last emitted start for
// (symbol, timeframe), so repeated invocations over disjoint batches yield a
// strictly advancing bar stream. With merge enabled, the tail bucket of a
// batch may be re-emitted and combined at the store instead of suppressed.
type Resampler struct {
	store      store.BarStore
	state      *State
	timeframes []market.Timeframe
	merge      bool
	log        zerolog.Logger
}

// NewResampler builds a resampler over the given timeframes.
func NewResampler(barStore store.BarStore, state *State, timeframes []market.Timeframe, merge bool, log zerolog.Logger) *Resampler {
	if len(timeframes) == 0 {
		timeframes = []market.Timeframe{
			market.Timeframe(time.Second),
			market.Timeframe(time.Minute),
			market.Timeframe(5 * time.Minute),
		}
	}
	return &Resampler{store: barStore, state: state, timeframes: timeframes, merge: merge, log: log}
}

// Resample aggregates one symbol's batch. The batch must be in arrival
// order; open/close follow that order. Store writes survive pipeline
// shutdown so a batch in flight always completes.
func (rs *Resampler) Resample(ctx context.Context, symbol string, batch []market.Tick) {
	if len(batch) == 0 {
		return
	}
	writeCtx := context.WithoutCancel(ctx)
	for _, tf := range rs.timeframes {
		rs.resampleTimeframe(writeCtx, symbol, tf, batch)
	}
}

func (rs *Resampler) resampleTimeframe(ctx context.Context, symbol string, tf market.Timeframe, batch []market.Tick) {
	buckets := make(map[int64]*market.Bar, 4)
	for _, tick := range batch {
		start := tf.BucketStart(tick.Ts)
		key := start.UnixMilli()
		bar := buckets[key]
		if bar == nil {
			buckets[key] = &market.Bar{
				Symbol:      symbol,
				Timeframe:   tf,
				BucketStart: start,
				Open:        tick.Price,
				High:        tick.Price,
				Low:         tick.Price,
				Close:       tick.Price,
				Volume:      tick.Size,
			}
			continue
		}
		if tick.Price > bar.High {
			bar.High = tick.Price
		}
		if tick.Price < bar.Low {
			bar.Low = tick.Price
		}
		bar.Close = tick.Price
		bar.Volume += tick.Size
	}

	starts := make([]int64, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	for _, start := range starts {
		bar := *buckets[start]
		last, seen := rs.state.LastEmitted(symbol, tf)
		switch {
		case !seen || start > last:
			rs.emit(ctx, bar, rs.store.Upsert)
			rs.state.setLastEmitted(symbol, tf, start)
		case rs.merge && start == last:
			rs.emit(ctx, bar, rs.store.MergeUpsert)
		}
	}
}

// emit hands a completed bar to the store. Write failures are dropped, not
// retried; the pipeline keeps running in degraded mode.
func (rs *Resampler) emit(ctx context.Context, bar market.Bar, write func(context.Context, market.Bar) error) {
	ctx, cancel := context.WithTimeout(ctx, storeWriteTimeout)
	defer cancel()

	if err := write(ctx, bar); err != nil {
		metrics.StoreWriteErrorsTotal.Inc()
		rs.log.Warn().Err(err).Str("bar", bar.Key()).Msg("bar write dropped")
		return
	}
	metrics.BarsEmittedTotal.WithLabelValues(bar.Symbol, bar.Timeframe.Label()).Inc()
}
