package analytics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pairstream-go/internal/market"
	"pairstream-go/internal/metrics"
	"pairstream-go/internal/pipeline"
	"pairstream-go/internal/store"
)

// Phase tracks whether the engine is still running on placeholder
// coefficients (Priming) or on a real fit (Live). The transition happens at
// most once per process and never reverts.
type Phase int32

const (
	PhasePriming Phase = iota
	PhaseLive
)

func (p Phase) String() string {
	if p == PhaseLive {
		return "live"
	}
	return "priming"
}

// Coefficients is the regression state consumed by the live loop.
type Coefficients struct {
	Alpha      float64
	Beta       float64
	SpreadMean float64
	SpreadStd  float64
	FittedAt   time.Time
}

// Broadcaster delivers analytics payloads to subscribers. Publishing must
// never block; delivery is best effort.
type Broadcaster interface {
	Publish(payload []byte)
}

// Config tunes the engine.
type Config struct {
	SymbolX       string
	SymbolY       string
	PairLabel     string
	FitTimeframe  market.Timeframe
	RollingWindow int
	IdleDelay     time.Duration
	Placeholder   Coefficients
}

const (
	defaultRollingWindow = 5
	minFitObservations   = 2
	defaultIdleDelay     = 10 * time.Millisecond
	fitReadTimeout       = 5 * time.Second
)

// Engine owns the regression state. It is the single writer of its
// coefficients; everything else only reads snapshots.
type Engine struct {
	cfg   Config
	store store.BarStore
	cache *pipeline.PriceCache
	out   Broadcaster
	log   zerolog.Logger

	mu    sync.RWMutex
	coef  Coefficients
	phase Phase

	prices map[string]float64
}

// New seeds an engine with placeholder coefficients so output begins
// immediately, before any history has accumulated.
func New(cfg Config, barStore store.BarStore, cache *pipeline.PriceCache, out Broadcaster, log zerolog.Logger) *Engine {
	if cfg.RollingWindow < minFitObservations {
		cfg.RollingWindow = defaultRollingWindow
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = defaultIdleDelay
	}
	if cfg.FitTimeframe == 0 {
		cfg.FitTimeframe = market.Timeframe(time.Minute)
	}
	if cfg.Placeholder.SpreadStd <= 0 {
		// A zero placeholder std would zero every priming z-score.
		cfg.Placeholder.SpreadStd = 1
	}
	if cfg.PairLabel == "" {
		cfg.PairLabel = cfg.SymbolY + " / " + cfg.SymbolX
	}
	return &Engine{
		cfg:    cfg,
		store:  barStore,
		cache:  cache,
		out:    out,
		log:    log,
		coef:   cfg.Placeholder,
		phase:  PhasePriming,
		prices: make(map[string]float64, 2),
	}
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// Coefficients returns a snapshot of the active regression state.
func (e *Engine) Coefficients() Coefficients {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.coef
}

// TryFit fetches the rolling window of completed bars for both legs, aligns
// them by bucket start, and fits the hedge ratio. A failed fit (store error
// or fewer than 2 aligned observations) is a normal no-result outcome: the
// current coefficients stay in place and false is returned.
func (e *Engine) TryFit(ctx context.Context) bool {
	metrics.FitAttemptsTotal.Inc()

	readCtx, cancel := context.WithTimeout(ctx, fitReadTimeout)
	defer cancel()

	xBars, err := e.store.Latest(readCtx, e.cfg.SymbolX, e.cfg.FitTimeframe, e.cfg.RollingWindow)
	if err != nil {
		e.log.Debug().Err(err).Msg("fit unavailable: store read failed")
		return false
	}
	yBars, err := e.store.Latest(readCtx, e.cfg.SymbolY, e.cfg.FitTimeframe, e.cfg.RollingWindow)
	if err != nil {
		e.log.Debug().Err(err).Msg("fit unavailable: store read failed")
		return false
	}

	xs, ys := alignCloses(xBars, yBars)
	if len(xs) < minFitObservations {
		return false
	}
	alpha, beta, ok := olsFit(xs, ys)
	if !ok {
		return false
	}
	mean, std := spreadStats(xs, ys, alpha, beta)

	e.mu.Lock()
	e.coef = Coefficients{Alpha: alpha, Beta: beta, SpreadMean: mean, SpreadStd: std, FittedAt: time.Now().UTC()}
	wasPriming := e.phase == PhasePriming
	e.phase = PhaseLive
	e.mu.Unlock()

	metrics.FitSuccessesTotal.Inc()
	if wasPriming {
		e.log.Info().
			Float64("alpha", alpha).
			Float64("beta", beta).
			Int("observations", len(xs)).
			Msg("priming complete, switched to fitted coefficients")
	}
	return true
}

// Run drives the analytics loop until the context ends. While priming it
// retries the fit on every iteration; once live the coefficients are fixed
// for the process lifetime.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Str("pair", e.cfg.PairLabel).Msg("analytics loop started, waiting for prices")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.Phase() == PhasePriming {
			e.TryFit(ctx)
		}

		e.drainPrices()
		px, okX := e.price(e.cfg.SymbolX)
		py, okY := e.price(e.cfg.SymbolY)
		if !okX || !okY {
			if err := e.idle(ctx); err != nil {
				return err
			}
			continue
		}
		e.publish(px, py)
		if err := e.idle(ctx); err != nil {
			return err
		}
	}
}

// drainPrices empties the pending update stream without blocking, keeping
// only the newest price per symbol. Skipping intermediate values under load
// is expected.
func (e *Engine) drainPrices() {
	for {
		select {
		case tick := <-e.cache.Updates():
			e.prices[tick.Symbol] = tick.Price
		default:
			return
		}
	}
}

func (e *Engine) price(symbol string) (float64, bool) {
	if px, ok := e.prices[symbol]; ok {
		return px, true
	}
	// Fall back to the cache for prices routed before this loop started.
	if px, ok := e.cache.Latest(symbol); ok {
		e.prices[symbol] = px
		return px, true
	}
	return 0, false
}

func (e *Engine) publish(px, py float64) {
	update := e.Compute(px, py)
	payload, err := json.Marshal(update)
	if err != nil {
		e.log.Warn().Err(err).Msg("marshal analytics update")
		return
	}
	e.out.Publish(payload)
	metrics.AnalyticsUpdatesTotal.Inc()
}

// Compute derives the live spread and z-score for a pair of prices using the
// active coefficients. A zero spread std yields a z-score of exactly 0; the
// result is never NaN or Inf.
func (e *Engine) Compute(px, py float64) market.Update {
	coef := e.Coefficients()
	spread := py - (coef.Alpha + coef.Beta*px)
	z := 0.0
	if coef.SpreadStd != 0 {
		z = (spread - coef.SpreadMean) / coef.SpreadStd
	}
	return market.Update{
		Type:         market.UpdateType,
		ZScore:       z,
		HedgeRatio:   coef.Beta,
		LatestSpread: spread,
		SymbolPair:   e.cfg.PairLabel,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (e *Engine) idle(ctx context.Context) error {
	select {
	case <-time.After(e.cfg.IdleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
