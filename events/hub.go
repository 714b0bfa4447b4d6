// Package events fans Dispatcher envelopes out to Requesters over websockets
// and to in-process subscribers.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 64
)

type subscriber struct {
	send      chan models.Envelope
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

type Hub struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	closed   bool
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Requesters are local tools, not browsers with an Origin to check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe registers an in-process listener. The returned cancel func
// unregisters it and closes the channel. A listener that falls behind by
// more than the buffer is dropped.
func (h *Hub) Subscribe() (<-chan models.Envelope, func()) {
	sub := &subscriber{send: make(chan models.Envelope, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub.send, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub.send, func() { h.remove(sub) }
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}

// Publish delivers env to every subscriber without blocking.
func (h *Hub) Publish(env models.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.send <- env:
		default:
			h.logger.WithField("type", env.Type).Warn("Dropping slow event subscriber")
			delete(h.subs, sub)
			sub.close()
		}
	}
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.close()
	}
}

// ServeHTTP upgrades the request to a websocket and streams envelopes to it
// until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscribed before the handshake completes, so nothing published after
	// the client sees 101 is missed.
	events, cancel := h.Subscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	h.logger.WithField("remote_ip", r.RemoteAddr).Info("Event subscriber connected")

	go h.writePump(conn, events)
	go h.readPump(conn, cancel)
}

func (h *Hub) writePump(conn *websocket.Conn, events <-chan models.Envelope) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(env)
			if err != nil {
				h.logger.WithError(err).Error("Failed to encode event")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; clients do not send data.
func (h *Hub) readPump(conn *websocket.Conn, cancel func()) {
	defer func() {
		cancel()
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Warn("WebSocket read error")
			}
			return
		}
	}
}
