// Package ws streams pool events from the event bus to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/poolregistry/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming control messages.
	maxMessageSize = 4096

	// sendBufferSize is the per-client outgoing queue.
	sendBufferSize = 256
)

// Frame formats selected with ?format= on connect.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

// Config controls the hub.
type Config struct {
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	format string

	mu    sync.RWMutex
	pools map[string]bool // empty means every pool
}

// controlMsg is the JSON text frame a client sends to narrow or widen the
// set of pools it receives events for.
type controlMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Pools  []string `json:"pools"`
}

// Hub fans pool events published on the bus out to connected clients.
type Hub struct {
	bus      domain.SignalBus
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origins["*"] || origin == "" || origins[origin]
			},
		},
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run subscribes to the pool event channel and serves clients until ctx is
// cancelled, at which point every connection is closed.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	events, err := h.bus.Subscribe(ctx, domain.PoolEventsChannel)
	if err != nil {
		return fmt.Errorf("ws: subscribe %s: %w", domain.PoolEventsChannel, err)
	}
	h.logger.Info("ws: subscribed", slog.String("channel", domain.PoolEventsChannel))

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case payload, ok := <-events:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				events = nil
				continue
			}
			var evt domain.PoolEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				h.logger.Warn("ws: skip undecodable event", slog.String("error", err.Error()))
				continue
			}
			h.fanOut(evt)
		}
	}
}

func (h *Hub) fanOut(evt domain.PoolEvent) {
	var jsonFrame, protoFrame []byte

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(evt.PoolID) {
			continue
		}

		var frame []byte
		var err error
		switch c.format {
		case FormatProto:
			if protoFrame == nil {
				protoFrame, err = EncodeProto(evt)
			}
			frame = protoFrame
		default:
			if jsonFrame == nil {
				jsonFrame, err = json.Marshal(envelope(evt))
			}
			frame = jsonFrame
		}
		if err != nil {
			h.logger.Error("ws: encode event", slog.String("format", c.format), slog.String("error", err.Error()))
			continue
		}

		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws: dropping message for slow client", slog.String("pool_id", evt.PoolID))
		}
	}
}

// envelope is the wire shape of an event frame in both formats.
func envelope(evt domain.PoolEvent) map[string]any {
	return map[string]any{"type": "pool_event", "payload": evt}
}

// EncodeProto renders evt as a serialized google.protobuf.Struct holding the
// same fields as the JSON frame.
func EncodeProto(evt domain.PoolEvent) ([]byte, error) {
	raw, err := json.Marshal(envelope(evt))
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("ws: build struct: %w", err)
	}
	return proto.Marshal(st)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client. Query parameters:
// format=json|proto, pool_id (repeatable) to pre-filter.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatProto:
	default:
		http.Error(w, `{"error":"unprocessable","detail":"format must be json or proto"}`, http.StatusUnprocessableEntity)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		format: format,
		pools:  make(map[string]bool),
	}
	for _, id := range r.URL.Query()["pool_id"] {
		c.pools[id] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// wants reports whether the client receives events for poolID.
func (c *client) wants(poolID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pools) == 0 || c.pools[poolID]
}

func (c *client) apply(msg controlMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Pools {
			c.pools[id] = true
		}
	case "unsubscribe":
		for _, id := range msg.Pools {
			delete(c.pools, id)
		}
	}
}

// readPump handles control messages and pongs until the connection fails.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var msg controlMsg
		if err := json.Unmarshal(message, &msg); err == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

// writePump sends queued frames and keepalive pings. JSON clients get text
// frames, proto clients binary frames.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.format == FormatProto {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
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
