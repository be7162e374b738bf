// Package ws pushes state changes to WebSocket clients. Changes arrive from
// the Redis signal bus as JSON change events; each is sent to the clients
// subscribed to its state key together with the key's current contents.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/justersync/internal/metrics"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// Bus is the subscribe half of the signal bus.
type Bus interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Snapshot returns the current contents of a state key.
type Snapshot func(key string) (data any, ok bool)

// change mirrors the change events published by the state bridge.
type change struct {
	Key string    `json:"key"`
	Op  string    `json:"op"`
	ID  string    `json:"id,omitempty"`
	At  time.Time `json:"at"`
}

// envelope is every frame sent to clients.
type envelope struct {
	Type    string `json:"type"`
	Key     string `json:"key,omitempty"`
	Op      string `json:"op,omitempty"`
	ID      string `json:"id,omitempty"`
	Data    any    `json:"data,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed state keys, "*" suffix for prefixes
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to manage its keys:
// {"action":"subscribe","keys":["markets","quotes:*"]}.
type subscribeMsg struct {
	Action string   `json:"action"`
	Keys   []string `json:"keys"`
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	// Channel is the bus channel or pattern carrying change events.
	Channel string
	Mode    string
	Network string
	// DefaultKeys are subscribed for every new client.
	DefaultKeys []string
	StartedAt   time.Time
	// CheckOrigin restricts upgrades; nil allows every origin.
	CheckOrigin func(r *http.Request) bool
}

// Hub manages connected WebSocket clients and forwards change events to the
// clients subscribed to them.
type Hub struct {
	cfg       Config
	clients   map[*client]bool
	broadcast chan change
	closed    bool
	bus       Bus
	snapshot  Snapshot
	upgrader  websocket.Upgrader
	metrics   *metrics.Metrics
	mu        sync.RWMutex
	logger    *slog.Logger
}

// NewHub creates a hub bridging bus to WebSocket clients. snapshot and m may
// be nil.
func NewHub(bus Bus, snapshot Snapshot, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Hub {
	if strings.TrimSpace(cfg.Mode) == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	if len(cfg.DefaultKeys) == 0 {
		cfg.DefaultKeys = []string{"*"}
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		cfg:       cfg,
		clients:   make(map[*client]bool),
		broadcast: make(chan change, 256),
		bus:       bus,
		snapshot:  snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		metrics: m,
		logger:  logger.With(slog.String("component", "ws-hub")),
	}
}

// Run forwards change events to clients until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	go h.subscribeToChannel(ctx, h.cfg.Channel)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.setGauge()
			return nil

		case ch := <-h.broadcast:
			h.fanOut(ch)
		}
	}
}

// addClient registers c. It reports false once the hub has stopped.
func (h *Hub) addClient(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.setGauge()
	h.logger.Info("client connected", slog.Int("total_clients", total))
	return true
}

// removeClient unregisters c and closes its send queue.
func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	total := len(h.clients)
	h.mu.Unlock()

	h.setGauge()
	h.logger.Info("client disconnected", slog.Int("total_clients", total))
}

// fanOut encodes ch once and queues it for every subscribed client.
func (h *Hub) fanOut(ch change) {
	env := envelope{Type: "change", Key: ch.Key, Op: ch.Op, ID: ch.ID}
	if h.snapshot != nil {
		if data, ok := h.snapshot(ch.Key); ok {
			env.Data = data
		}
	}
	msg, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("encode change", slog.String("key", ch.Key), slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(ch.Key) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Client's send buffer is full; drop the message.
			h.logger.Warn("dropping message for slow client", slog.String("key", ch.Key))
		}
	}
}

func (h *Hub) setGauge() {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(h.clientCount()))
	}
}

// subscribeToChannel forwards change events from the bus to the broadcast
// loop.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("channel subscription closed", slog.String("channel", channel))
				return
			}
			var ch change
			if err := json.Unmarshal(data, &ch); err != nil || ch.Key == "" {
				h.logger.Warn("skip malformed change", slog.String("channel", channel))
				continue
			}
			select {
			case h.broadcast <- ch:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, k := range h.cfg.DefaultKeys {
		c.subs[k] = true
	}

	if !h.addClient(c) {
		_ = conn.Close()
		return
	}
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription management messages from the connection.
func (c *client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription applies a subscribe/unsubscribe request and sends the
// current contents of newly subscribed exact keys.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, k := range msg.Keys {
			c.subs[k] = true
		}
	case "unsubscribe":
		for _, k := range msg.Keys {
			delete(c.subs, k)
		}
	}
	c.mu.Unlock()

	if msg.Action != "subscribe" || c.hub.snapshot == nil {
		return
	}
	for _, k := range msg.Keys {
		if strings.HasSuffix(k, "*") {
			continue
		}
		data, ok := c.hub.snapshot(k)
		if !ok {
			continue
		}
		b, err := json.Marshal(envelope{Type: "snapshot", Key: k, Data: data})
		if err != nil {
			continue
		}
		c.trySend(b)
	}
}

// trySend queues msg unless the client is already unregistered or its
// buffer is full. The hub closes send under its lock, so holding the read
// lock keeps the channel open.
func (c *client) trySend(msg []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// sendHello tells the client the connection is live before any change flows.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.cfg.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(envelope{
		Type: "hello",
		Payload: map[string]any{
			"mode":           c.hub.cfg.Mode,
			"network":        c.hub.cfg.Network,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	c.trySend(msg)
}

// isSubscribed checks whether the client follows the given key. A
// subscription ending in "*" matches every key with that prefix.
func (c *client) isSubscribed(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[key] {
		return true
	}
	for sub := range c.subs {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(key, strings.TrimSuffix(sub, "*")) {
			return true
		}
	}
	return false
}

// writePump sends queued messages as text frames and pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
