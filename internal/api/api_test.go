package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pairstream-go/internal/analytics"
	"pairstream-go/internal/market"
	"pairstream-go/internal/pipeline"
	"pairstream-go/internal/store"
)

func seedBars(t *testing.T, mem *store.Memory, symbol string, n int) {
	t.Helper()
	base := int64(1_700_000_000_000)
	for i := 0; i < n; i++ {
		bar := market.Bar{
			Symbol:      symbol,
			Timeframe:   market.Timeframe(time.Minute),
			BucketStart: time.UnixMilli(base + int64(i)*60_000).UTC(),
			Open:        100 + float64(i),
			High:        101 + float64(i),
			Low:         99 + float64(i),
			Close:       100.5 + float64(i),
			Volume:      10,
		}
		if err := mem.Upsert(context.Background(), bar); err != nil {
			t.Fatalf("seed upsert: %v", err)
		}
	}
}

func TestHistoricalDataChronologicalOrder(t *testing.T) {
	mem := store.NewMemory()
	seedBars(t, mem, "BTCUSDT", 5)
	srv := New(mem, nil, nil, zerolog.Nop())

	// Lowercase symbol must match the stored uppercase one.
	req := httptest.NewRequest(http.MethodGet, "/api/historical-data?symbol=btcusdt&timeframe=1m&limit=3", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var bars []market.Bar
	if err := json.Unmarshal(rec.Body.Bytes(), &bars); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(bars))
	}
	// Limit keeps the newest bars; order is oldest first.
	for i := 1; i < len(bars); i++ {
		if !bars[i].BucketStart.After(bars[i-1].BucketStart) {
			t.Fatalf("bars not chronological: %+v", bars)
		}
	}
	if bars[len(bars)-1].Close != 104.5 {
		t.Fatalf("expected newest close 104.5, got %g", bars[len(bars)-1].Close)
	}
}

func TestHistoricalDataEmptyResult(t *testing.T) {
	srv := New(store.NewMemory(), nil, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/historical-data?symbol=BTCUSDT&timeframe=1m", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Fatalf("expected empty array, got %q", body)
	}
}

func TestHistoricalDataValidation(t *testing.T) {
	srv := New(store.NewMemory(), nil, nil, zerolog.Nop())

	cases := []struct {
		name  string
		query string
	}{
		{"missing symbol", "timeframe=1m"},
		{"missing timeframe", "symbol=BTCUSDT"},
		{"bad timeframe", "symbol=BTCUSDT&timeframe=banana"},
		{"bad limit", "symbol=BTCUSDT&timeframe=1m&limit=-2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/historical-data?"+tc.query, nil)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

// downStore fails every operation, standing in for a lost database.
type downStore struct{}

func (downStore) Upsert(context.Context, market.Bar) error      { return errors.New("store down") }
func (downStore) MergeUpsert(context.Context, market.Bar) error { return errors.New("store down") }
func (downStore) Latest(context.Context, string, market.Timeframe, int) ([]market.Bar, error) {
	return nil, errors.New("store down")
}
func (downStore) Ping(context.Context) error { return errors.New("store down") }

func TestHistoricalDataStoreUnavailable(t *testing.T) {
	srv := New(downStore{}, nil, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/historical-data?symbol=BTCUSDT&timeframe=1m", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthReportsPhaseAndStore(t *testing.T) {
	engine := analytics.New(analytics.Config{
		SymbolX:     "BTCUSDT",
		SymbolY:     "ETHUSDT",
		Placeholder: analytics.Coefficients{SpreadStd: 500},
	}, store.NewMemory(), pipeline.NewPriceCache(16), nil, zerolog.Nop())
	srv := New(store.NewMemory(), engine, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health struct {
		Status         string `json:"status"`
		DBConnection   string `json:"db_connection"`
		AnalyticsPhase string `json:"analytics_phase"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.DBConnection != "connected" {
		t.Fatalf("unexpected health payload: %+v", health)
	}
	if health.AnalyticsPhase != "priming" {
		t.Fatalf("expected priming phase, got %q", health.AnalyticsPhase)
	}
}

func TestHealthFlagsUnreachableStore(t *testing.T) {
	srv := New(downStore{}, nil, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health struct {
		DBConnection string `json:"db_connection"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.DBConnection != "unavailable" {
		t.Fatalf("expected unavailable, got %q", health.DBConnection)
	}
}
