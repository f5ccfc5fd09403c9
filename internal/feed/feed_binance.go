package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pairstream-go/internal/market"
)

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceTrade `json:"data"`
}

type binanceTrade struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	EventTime int64  `json:"E"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
}

// runBinance keeps a combined trade stream open, reconnecting with a fixed
// delay whenever the connection drops. Only cancellation returns.
func (f *Feed) runBinance(ctx context.Context, out chan<- market.Tick) error {
	if len(f.symbols) == 0 {
		return fmt.Errorf("binance feed requires at least one symbol")
	}

	streams := make([]string, len(f.symbols))
	for i, sym := range f.symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	url := fmt.Sprintf("%s/stream?streams=%s", f.wsURL, strings.Join(streams, "/"))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeBinanceStream(ctx, url, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Dur("delay", f.reconnectDelay).Msg("binance feed disconnected, retrying")
			select {
			case <-time.After(f.reconnectDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
}

func (f *Feed) consumeBinanceStream(ctx context.Context, url string, out chan<- market.Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Strs("symbols", f.symbols).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, ok := parseBinanceMessage(message)
		if !ok {
			continue
		}

		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseBinanceMessage normalizes a combined-stream trade frame. Non-trade
// frames and malformed numerics are skipped.
func parseBinanceMessage(message []byte) (market.Tick, bool) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return market.Tick{}, false
	}
	trade := env.Data
	if trade.EventType != "trade" || trade.Symbol == "" {
		return market.Tick{}, false
	}
	px, err := strconv.ParseFloat(trade.Price, 64)
	if err != nil {
		return market.Tick{}, false
	}
	qty, err := strconv.ParseFloat(trade.Quantity, 64)
	if err != nil {
		return market.Tick{}, false
	}
	return market.Tick{
		Symbol: strings.ToUpper(trade.Symbol),
		Price:  px,
		Size:   qty,
		Ts:     time.UnixMilli(trade.EventTime),
	}, true
}
