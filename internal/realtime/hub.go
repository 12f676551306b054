package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"server/internal/infra"
	"server/internal/shopify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 16
)

// Envelope is the wire format for both directions of the realtime channel.
type Envelope struct {
	Event      string          `json:"event"`
	CreationID string          `json:"creationId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Hub owns the websocket connections and the creationID -> subscribers
// registry. Delivery is best-effort, at-most-once: a slow or disconnected
// client simply misses events and must re-fetch state over HTTP.
type Hub struct {
	logger   infra.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	subs    map[string]map[*client]struct{}
}

type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan Envelope
	done       chan struct{}
	closeOnce  sync.Once
	shopDomain string
}

// NewHub constructs an empty hub.
func NewHub(logger infra.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The embedded app runs inside the Shopify admin iframe; the
			// session check below is the actual gate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
		subs:    map[string]map[*client]struct{}{},
	}
}

// ServeWS upgrades the request to a websocket connection. The HTTP session
// middleware must have run first; connections without a shop in context are
// refused.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	shopDomain := shopify.ShopFromContext(r.Context())
	if shopDomain == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan Envelope, sendBuffer),
		done:       make(chan struct{}),
		shopDomain: shopDomain,
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

// Deliver pushes an event to the clients subscribed to creationID.
func (h *Hub) Deliver(event, creationID string, payload []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.subs[creationID]))
	for c := range h.subs[creationID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	env := Envelope{Event: event, CreationID: creationID, Data: payload}
	for _, c := range targets {
		select {
		case c.send <- env:
		default:
			// slow consumer: drop the connection rather than block delivery
			h.drop(c)
		}
	}
}

// SubscriberCount reports how many connections follow a creation.
func (h *Hub) SubscriberCount(creationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[creationID])
}

// Close terminates every connection. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
}

func (h *Hub) subscribe(c *client, creationID string) {
	if creationID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[creationID]; !ok {
		h.subs[creationID] = map[*client]struct{}{}
	}
	h.subs[creationID][c] = struct{}{}
}

func (h *Hub) unsubscribe(c *client, creationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[creationID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, creationID)
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for creationID, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, creationID)
		}
	}
	h.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) readPump() {
	defer c.hub.drop(c)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Str("shop", c.shopDomain).Msg("websocket closed")
			}
			return
		}
		switch env.Event {
		case "pingServer":
			c.enqueue(Envelope{Event: "pongClient"})
		case "subscribe_creation":
			c.hub.subscribe(c, env.CreationID)
		case "unsubscribe_creation":
			c.hub.unsubscribe(c, env.CreationID)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) enqueue(env Envelope) {
	select {
	case c.send <- env:
	default:
	}
}
