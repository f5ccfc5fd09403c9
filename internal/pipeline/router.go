package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"pairstream-go/internal/market"
	"pairstream-go/internal/metrics"
)

const defaultBufferThreshold = 50

// batchConsumer receives drained tick batches; satisfied by *Resampler.
type batchConsumer interface {
	Resample(ctx context.Context, symbol string, batch []market.Tick)
}

// Router consumes normalized ticks, updates the price cache, and buffers
// ticks per symbol. When a buffer reaches the threshold it is swapped out
// atomically and resampled on its own goroutine; batch N+1 for a symbol
// never starts before batch N has finished.
type Router struct {
	state     *State
	consumer  batchConsumer
	threshold int
	log       zerolog.Logger
	drains    sync.WaitGroup
}

// NewRouter wires the router onto shared state and a batch consumer.
func NewRouter(state *State, consumer batchConsumer, threshold int, log zerolog.Logger) *Router {
	if threshold <= 0 {
		threshold = defaultBufferThreshold
	}
	return &Router{state: state, consumer: consumer, threshold: threshold, log: log}
}

// Run routes ticks from the channel until the context ends. The tick in
// flight is fully routed before returning.
func (r *Router) Run(ctx context.Context, ticks <-chan market.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-ticks:
			r.Route(ctx, tick)
		}
	}
}

// Route handles a single pre-validated tick in constant time.
func (r *Router) Route(ctx context.Context, tick market.Tick) {
	metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
	r.state.prices.Put(tick)

	b := r.state.buffer(tick.Symbol)
	b.mu.Lock()
	b.ticks = append(b.ticks, tick)
	if len(b.ticks) >= r.threshold {
		b.queue = append(b.queue, b.ticks)
		b.ticks = make([]market.Tick, 0, r.threshold)
		if !b.inflight {
			b.inflight = true
			r.drains.Add(1)
			go r.drain(ctx, tick.Symbol, b)
		}
	}
	b.mu.Unlock()
}

// Wait blocks until every in-flight drain has finished its queued batches.
// Call after routing has stopped and before tearing down the store, so
// batches already handed to the resampler land completely.
func (r *Router) Wait() {
	r.drains.Wait()
}

// drain resamples queued batches for one symbol serially.
func (r *Router) drain(ctx context.Context, symbol string, b *symbolBuffer) {
	defer r.drains.Done()
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.inflight = false
			b.mu.Unlock()
			return
		}
		batch := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		metrics.ResampleBatchesTotal.WithLabelValues(symbol).Inc()
		r.consumer.Resample(ctx, symbol, batch)
	}
}
