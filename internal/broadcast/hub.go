// Package broadcast fans analytics payloads out to websocket subscribers.
// Delivery is fire-and-forget: a slow or dead subscriber is dropped rather
// than allowed to stall the publisher.
package broadcast

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pairstream-go/internal/metrics"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

// Hub maintains the live subscriber set. Publish never blocks on any
// subscriber; each connection has its own buffered outbox drained by a
// dedicated writer goroutine.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// The outbox channel is never closed; teardown is signalled through done so
// a concurrent Publish can never hit a closed channel.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewHub builds an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}, 16),
	}
}

// ServeHTTP upgrades the request and registers the connection as a
// subscriber until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, subscriberBuffer),
		done: make(chan struct{}),
	}
	if !h.add(sub) {
		conn.Close()
		return
	}
	h.log.Info().Str("remote", r.RemoteAddr).Msg("subscriber connected")

	go h.writeLoop(sub)
	h.readLoop(sub)
}

// Publish queues the payload on every subscriber's outbox. Subscribers whose
// outbox is full are disconnected; the rest are unaffected.
func (h *Hub) Publish(payload []byte) {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.send <- payload:
		default:
			h.log.Warn().Msg("subscriber outbox full, dropping connection")
			h.remove(sub)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	targets := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		h.remove(sub)
	}
}

func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[sub] = struct{}{}
	metrics.Subscribers.Set(float64(len(h.subs)))
	return true
}

// remove is idempotent; the read loop, write loop, and Publish may all race
// to drop the same subscriber.
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		metrics.Subscribers.Set(float64(len(h.subs)))
	}
	h.mu.Unlock()

	sub.once.Do(func() {
		close(sub.done)
		sub.conn.Close()
	})
}

// writeLoop drains the outbox onto the wire until the subscriber is removed.
func (h *Hub) writeLoop(sub *subscriber) {
	for {
		select {
		case payload := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.log.Debug().Err(err).Msg("subscriber write failed")
				h.remove(sub)
				return
			}
		case <-sub.done:
			return
		}
	}
}

// readLoop discards inbound frames; its job is noticing disconnects.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.remove(sub)
	sub.conn.SetReadLimit(1 << 16)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
