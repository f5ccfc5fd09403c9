package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"pairstream-go/internal/analytics"
	"pairstream-go/internal/api"
	"pairstream-go/internal/broadcast"
	"pairstream-go/internal/config"
	"pairstream-go/internal/feed"
	"pairstream-go/internal/market"
	"pairstream-go/internal/metrics"
	"pairstream-go/internal/pipeline"
	"pairstream-go/internal/store"
	"pairstream-go/internal/util"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("PAIRSTREAM_CONFIG")
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLog := util.NewLogger("info", "")
		bootLog.Fatal().Err(err).Str("path", cfgPath).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.Env)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	barStore := openStore(ctx, cfg, log)

	timeframes := make([]market.Timeframe, 0, len(cfg.Pipeline.Timeframes))
	for _, label := range cfg.Pipeline.Timeframes {
		tf, err := market.ParseTimeframe(label)
		if err != nil {
			log.Fatal().Err(err).Msg("bad pipeline timeframe")
		}
		timeframes = append(timeframes, tf)
	}
	fitTimeframe := market.Timeframe(time.Minute)
	if cfg.Analytics.FitTimeframe != "" {
		fitTimeframe, err = market.ParseTimeframe(cfg.Analytics.FitTimeframe)
		if err != nil {
			log.Fatal().Err(err).Msg("bad analytics fit timeframe")
		}
	}

	state := pipeline.NewState()
	resampler := pipeline.NewResampler(barStore, state, timeframes, cfg.Pipeline.MergePartialBuckets, log)
	router := pipeline.NewRouter(state, resampler, cfg.Pipeline.BufferThreshold, log)

	hub := broadcast.NewHub(log)
	engine := analytics.New(analytics.Config{
		SymbolX:       cfg.Pair.X,
		SymbolY:       cfg.Pair.Y,
		PairLabel:     cfg.Pair.Label(),
		FitTimeframe:  fitTimeframe,
		RollingWindow: cfg.Analytics.RollingWindow,
		IdleDelay:     time.Duration(cfg.Analytics.IdleDelayMs) * time.Millisecond,
		Placeholder: analytics.Coefficients{
			Alpha:      cfg.Analytics.Placeholder.Alpha,
			Beta:       cfg.Analytics.Placeholder.Beta,
			SpreadMean: cfg.Analytics.Placeholder.SpreadMean,
			SpreadStd:  cfg.Analytics.Placeholder.SpreadStd,
		},
	}, barStore, state.Prices(), hub, log)

	source := feed.New(cfg.Feed.Provider, cfg.Pair.Symbols(), log,
		feed.WithWSURL(cfg.Feed.WSURL),
		feed.WithReconnectDelay(time.Duration(cfg.Feed.ReconnectDelayMs)*time.Millisecond),
	)

	ticks := make(chan market.Tick, 1024)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		util.Loop(ctx, log, "feed", time.Second, func(ctx context.Context) error {
			return source.Run(ctx, ticks)
		})
	}()
	go func() {
		defer wg.Done()
		util.Loop(ctx, log, "router", time.Second, func(ctx context.Context) error {
			return router.Run(ctx, ticks)
		})
	}()
	go func() {
		defer wg.Done()
		util.Loop(ctx, log, "analytics", time.Second, engine.Run)
	}()

	httpSrv := &http.Server{
		Addr:    cfg.App.ListenAddr,
		Handler: api.New(barStore, engine, hub, log),
	}
	go func() {
		log.Info().Str("addr", cfg.App.ListenAddr).Msg("http up")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	hub.Close()
	wg.Wait()
	// Let any batch already handed to the resampler land before the store
	// client is torn down.
	router.Wait()

	if closer, ok := barStore.(*store.Mongo); ok {
		_ = closer.Close(shutdownCtx)
	}
	log.Info().Msg("bye")
}

// openStore prefers the document store and degrades to the in-memory one
// when it is unreachable, so the pipeline keeps serving live analytics
// without persistence.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) store.BarStore {
	mongoStore, err := store.NewMongo(ctx, store.MongoConfig{
		URI:            cfg.Store.URI,
		Database:       cfg.Store.Database,
		Collection:     cfg.Store.Collection,
		ConnectTimeout: time.Duration(cfg.Store.ConnectTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		log.Warn().Err(err).Msg("document store unavailable, falling back to in-memory bars")
		return store.NewMemory()
	}
	log.Info().Str("db", cfg.Store.Database).Str("collection", cfg.Store.Collection).Msg("document store connected")
	return mongoStore
}
