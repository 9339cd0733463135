package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gheezy/signalengine/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	clientBufferSz = 16
)

// StreamHub broadcasts every persisted signal to connected websocket
// clients. It satisfies the engine's notifier hook; a slow client is
// dropped rather than allowed to stall the broadcast.
type StreamHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan domain.Signal
}

func NewStreamHub() *StreamHub {
	return &StreamHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*client]struct{}),
	}
}

// SignalCreated fans the signal out to every connected client.
func (h *StreamHub) SignalCreated(sig domain.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- sig:
		default:
			// Buffer full: the client is not keeping up.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Serve upgrades the connection and streams signals until the client
// disconnects.
func (h *StreamHub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan domain.Signal, clientBufferSz),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Str("remote", r.RemoteAddr).Int("clients", n).Msg("stream client connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *StreamHub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case sig, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "slow consumer"),
					time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(sig); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop drains inbound frames so pings and close handshakes are
// processed; the stream is one-way otherwise.
func (h *StreamHub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
