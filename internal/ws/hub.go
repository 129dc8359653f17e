// Package ws serves the read-only WebSocket subscription feed described by
// the state engine's broadcast channels: no authentication, one connection
// per client, optional per-entity subscription filtering.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxlabs/flux/infrastructure/logging"
	"github.com/fluxlabs/flux/infrastructure/metrics"
	"github.com/fluxlabs/flux/internal/stateengine"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 256

	defaultMetricsBroadcastInterval = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns the engine subscriptions every connected client reads from, plus
// the registry of connected clients used for the periodic metrics_update
// broadcast.
type Hub struct {
	engine *stateengine.Engine
	logger *logging.Logger
	m      *metrics.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub wraps the engine whose updates are forwarded to clients and starts
// the periodic metrics_update broadcaster. m may be nil in tests.
func NewHub(engine *stateengine.Engine, logger *logging.Logger, m *metrics.Metrics) *Hub {
	return NewHubWithInterval(engine, logger, m, defaultMetricsBroadcastInterval)
}

// NewHubWithInterval is NewHub with an explicit metrics_update broadcast
// interval, for tests that need a faster cadence than the production
// default. A zero interval disables the broadcaster entirely.
func NewHubWithInterval(engine *stateengine.Engine, logger *logging.Logger, m *metrics.Metrics, metricsInterval time.Duration) *Hub {
	h := &Hub{
		engine:  engine,
		logger:  logger,
		m:       m,
		clients: make(map[*client]struct{}),
	}
	if metricsInterval > 0 {
		go h.broadcastMetricsLoop(metricsInterval)
	}
	return h
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := newClient(h, conn)
	h.register(c)
	if h.m != nil {
		h.m.IncWSConnections()
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	if h.m != nil {
		h.m.DecWSConnections()
	}
}

// broadcastMetricsLoop periodically pushes a metrics_update snapshot to
// every connected client, the same cadence the Prometheus gauges it also
// updates would be scraped at.
func (h *Hub) broadcastMetricsLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		h.broadcastMetrics()
	}
}

func (h *Hub) broadcastMetrics() {
	entities := h.engine.EntityCount()
	if h.m != nil {
		h.m.SetEntitiesLive(entities)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	msg := outbound{
		Type:                "metrics_update",
		Timestamp:           time.Now().UnixMilli(),
		EntitiesLive:        entities,
		WSConnectionsActive: len(h.clients),
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn(context.Background(), "websocket client lagging, dropping metrics_update", nil)
		}
	}
}

// outbound is the tagged union of every message type the server sends.
type outbound struct {
	Type                string          `json:"type"`
	EntityID            string          `json:"entity_id,omitempty"`
	Property            string          `json:"property,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	Timestamp           int64           `json:"timestamp,omitempty"`
	Message             string          `json:"message,omitempty"`
	EntitiesLive        int             `json:"entities_live,omitempty"`
	WSConnectionsActive int             `json:"ws_connections_active,omitempty"`
}

// inbound is the client's subscribe/unsubscribe command shape.
type inbound struct {
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan outbound

	mu            sync.Mutex
	subscriptions map[string]bool
	forwardAll    bool

	unsubState     func()
	unsubDeletions func()
}

func newClient(hub *Hub, conn *websocket.Conn) *client {
	c := &client{
		hub:           hub,
		conn:          conn,
		send:          make(chan outbound, clientSendSize),
		subscriptions: make(map[string]bool),
		forwardAll:    true,
	}

	stateCh, unsubState := hub.engine.SubscribeState()
	deletionCh, unsubDeletions := hub.engine.SubscribeDeletions()
	c.unsubState = unsubState
	c.unsubDeletions = unsubDeletions

	go c.pumpState(stateCh)
	go c.pumpDeletions(deletionCh)
	return c
}

// wants reports whether entityID matches the client's subscription set. A
// connection with no subscriptions forwards everything; "*" forwards
// everything even after an explicit subscribe.
func (c *client) wants(entityID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forwardAll || len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[entityID] || c.subscriptions["*"]
}

func (c *client) subscribe(entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[entityID] = true
	if entityID == "*" {
		c.forwardAll = true
		return
	}
	c.forwardAll = false
}

func (c *client) unsubscribe(entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, entityID)
	if entityID == "*" {
		c.forwardAll = false
	}
}

// pumpState forwards state updates the client's filter accepts. A slow
// client's send channel filling up drops the update rather than blocking
// the shared engine broadcast; the client is expected to resync via the
// entities query endpoint.
func (c *client) pumpState(ch <-chan stateengine.StateUpdate) {
	for update := range ch {
		if !c.wants(update.EntityID) {
			continue
		}
		msg := outbound{
			Type:      "state_update",
			EntityID:  update.EntityID,
			Property:  update.Property,
			Value:     update.NewValue,
			Timestamp: update.At.UnixMilli(),
		}
		select {
		case c.send <- msg:
		default:
			c.hub.logger.Warn(context.Background(), "websocket client lagging, dropping state_update", nil)
		}
	}
}

func (c *client) pumpDeletions(ch <-chan stateengine.Deletion) {
	for d := range ch {
		if !c.wants(d.EntityID) {
			continue
		}
		msg := outbound{Type: "entity_deleted", EntityID: d.EntityID, Timestamp: d.At.UnixMilli()}
		select {
		case c.send <- msg:
		default:
			c.hub.logger.Warn(context.Background(), "websocket client lagging, dropping entity_deleted", nil)
		}
	}
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send <- outbound{Type: "error", Message: "malformed subscription message"}
			continue
		}
		switch msg.Type {
		case "subscribe":
			c.subscribe(msg.EntityID)
		case "unsubscribe":
			c.unsubscribe(msg.EntityID)
		default:
			c.send <- outbound{Type: "error", Message: "unknown message type"}
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
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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

func (c *client) close() {
	c.hub.unregister(c)
	c.unsubState()
	c.unsubDeletions()
}
