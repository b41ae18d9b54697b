package devserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	sendBuffer = 64
	ringSize   = 128
)

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]bool
}

func newClient(conn *websocket.Conn, rooms map[string]bool) *client {
	c := &client{
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		rooms: rooms,
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

func (c *client) inAny(rooms map[string]bool) bool {
	for r := range rooms {
		if c.rooms[r] {
			return true
		}
	}
	return false
}

// entry is one sequenced frame retained for long-poll delivery and
// transport upgrades.
type entry struct {
	env   Envelope
	rooms map[string]bool
}

// Hub sequences outbound frames and fans them out to websocket clients
// and long-pollers. A bounded ring of recent frames backs the poll
// cursor; a poller further behind than the ring simply misses the
// evicted frames, which is acceptable for a dev gateway.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]bool

	logMu  sync.Mutex
	seq    uint64
	ring   []entry
	notify chan struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		log:     logger,
		clients: make(map[*client]bool),
		notify:  make(chan struct{}),
	}
}

// addClient registers a websocket client. A non-nil greeting is
// enqueued before the client is visible to Publish, so it always
// precedes any fanned-out frame on the wire.
func (h *Hub) addClient(conn *websocket.Conn, rooms map[string]bool, greeting []byte) *client {
	c := newClient(conn, rooms)
	if greeting != nil {
		c.send <- greeting
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Cursor returns the sequence number of the newest published frame.
// Fresh connections start from here so they never see history.
func (h *Hub) Cursor() uint64 {
	h.logMu.Lock()
	defer h.logMu.Unlock()
	return h.seq
}

// Publish sequences one frame, retains it for pollers, and pushes it to
// every websocket client in any of the given rooms. Empty rooms means
// every authenticated client.
func (h *Hub) Publish(event string, data interface{}, rooms map[string]bool) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("publish marshal failed")
		return
	}

	h.logMu.Lock()
	h.seq++
	env := Envelope{Seq: h.seq, Event: event, Data: payload}
	h.ring = append(h.ring, entry{env: env, rooms: rooms})
	if len(h.ring) > ringSize {
		h.ring = h.ring[len(h.ring)-ringSize:]
	}
	close(h.notify)
	h.notify = make(chan struct{})
	h.logMu.Unlock()

	raw, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Msg("envelope marshal failed")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if len(rooms) == 0 || c.inAny(rooms) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- raw:
		default:
			h.log.Warn().Msg("ws client too slow, disconnecting")
			h.removeClient(c)
		}
	}
}

// Poll returns the retained frames after cursor that are visible to the
// given rooms, blocking up to wait for the first one. The returned
// cursor covers every published frame, visible or not, so a poller
// never refetches frames it was not meant to see.
func (h *Hub) Poll(ctx context.Context, rooms map[string]bool, cursor uint64, wait time.Duration) ([]Envelope, uint64) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		h.logMu.Lock()
		var out []Envelope
		for _, e := range h.ring {
			if e.env.Seq <= cursor {
				continue
			}
			if len(e.rooms) == 0 || intersects(e.rooms, rooms) {
				out = append(out, e.env)
			}
		}
		next := h.seq
		notify := h.notify
		h.logMu.Unlock()

		if len(out) > 0 {
			return out, next
		}

		select {
		case <-ctx.Done():
			return nil, next
		case <-deadline.C:
			return nil, next
		case <-notify:
		}
	}
}

func intersects(a, b map[string]bool) bool {
	for r := range a {
		if b[r] {
			return true
		}
	}
	return false
}
