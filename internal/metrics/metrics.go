package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks routed"},
		[]string{"symbol"},
	)
	ResampleBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "resample_batches_total", Help: "Tick batches drained for resampling"},
		[]string{"symbol"},
	)
	BarsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bars_emitted_total", Help: "OHLCV bars handed to the store"},
		[]string{"symbol", "timeframe"},
	)
	StoreWriteErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "store_write_errors_total", Help: "Bar upserts dropped due to store errors"},
	)
	FitAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "fit_attempts_total", Help: "Regression fit attempts"},
	)
	FitSuccessesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "fit_successes_total", Help: "Regression fits that produced coefficients"},
	)
	AnalyticsUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "analytics_updates_total", Help: "Analytics payloads published"},
	)
	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ws_subscribers", Help: "Connected broadcast subscribers"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		ResampleBatchesTotal,
		BarsEmittedTotal,
		StoreWriteErrorsTotal,
		FitAttemptsTotal,
		FitSuccessesTotal,
		AnalyticsUpdatesTotal,
		Subscribers,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
