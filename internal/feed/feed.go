// Package feed hosts tick sources that push normalized trades into the pipeline.
package feed

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pairstream-go/internal/market"
)

const (
	// ProviderStub emits deterministic synthetic ticks (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams live trades from Binance public websockets.
	ProviderBinance = "binance"
)

const (
	defaultBinanceWSURL   = "wss://fstream.binance.com"
	defaultReconnectDelay = 5 * time.Second
)

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider       string
	symbols        []string
	log            zerolog.Logger
	wsURL          string
	reconnectDelay time.Duration
}

// Option configures Feed construction parameters.
type Option func(*Feed)

// WithWSURL overrides the websocket base URL (scheme + host).
func WithWSURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.wsURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithReconnectDelay overrides the fixed delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.reconnectDelay = d
		}
	}
}

// New constructs a feed backed by the requested provider.
func New(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:       strings.ToLower(provider),
		log:            log,
		wsURL:          defaultBinanceWSURL,
		reconnectDelay: defaultReconnectDelay,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Feed) setSymbols(symbols []string) {
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- market.Tick) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

// runStub walks each symbol's price deterministically so the pair stays
// correlated and the regression has something to fit.
func (f *Feed) runStub(ctx context.Context, out chan<- market.Tick) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	base := make(map[string]float64, len(f.symbols))
	for i, sym := range f.symbols {
		base[sym] = 100 * float64(i+1)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			for _, sym := range f.symbols {
				base[sym] += 0.1
				tick := market.Tick{Symbol: sym, Price: base[sym], Size: 1, Ts: ts}
				select {
				case out <- tick:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
