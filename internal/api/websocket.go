package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wardenhq/warden-core/internal/infrastructure/config"
	"github.com/wardenhq/warden-core/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypeEvent = "event"

	// wsSendBufferSize is the per-client outbound message buffer size.
	// A client that falls this far behind is dropped rather than
	// allowed to backpressure the gateway.
	wsSendBufferSize = 256

	// wsWriteWait is the deadline for a single outbound write.
	wsWriteWait = 10 * time.Second
)

// WSMessage is a message delivered to a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub manages WebSocket connections grouped by tenant and delivers
// gateway events to the right tenant's clients only. It implements the
// gateway's TenantEmitter interface.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[string]map[*WSClient]struct{} // tenant id -> clients
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client bound to one tenant.
type WSClient struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	tenantID string
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin policy belongs to the fronting proxy.
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to its tenant's group.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	group, ok := h.clients[client.tenantID]
	if !ok {
		group = make(map[*WSClient]struct{})
		h.clients[client.tenantID] = group
	}
	group[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected",
		"tenant_id", client.tenantID, "clients", h.ClientCount())
}

// Unregister removes a client from its tenant's group.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	existed := false
	if group, ok := h.clients[client.tenantID]; ok {
		_, existed = group[client]
		delete(group, client)
		if len(group) == 0 {
			delete(h.clients, client.tenantID)
		}
	}
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected",
		"tenant_id", client.tenantID, "clients", h.ClientCount())
}

// EmitToTenant delivers an event to every client of one tenant.
// Clients of other tenants never see it. Implements gateway.TenantEmitter.
func (h *Hub) EmitToTenant(tenantID, event string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal tenant event", "event", event, "error", err)
		return
	}

	// Snapshot the tenant's client list under the hub lock, then
	// release before sending.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients[tenantID]))
	for client := range h.clients[tenantID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(data)
	}
	if len(clients) > 0 {
		h.logger.Debug("tenant event delivered",
			"tenant_id", tenantID, "event", event, "recipients", len(clients))
	}
}

// ClientCount returns the number of connected clients across all tenants.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, group := range h.clients {
		count += len(group)
	}
	return count
}

// TenantClientCount returns the number of clients for one tenant.
func (h *Hub) TenantClientCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tenantID])
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for tenantID, group := range h.clients {
		for client := range group {
			close(client.send)
			if client.conn != nil {
				client.conn.Close()
			}
		}
		delete(h.clients, tenantID)
	}
}

// trySend queues a message without blocking. A client whose buffer is
// full is disconnected: slow consumers must not stall the event path.
func (c *WSClient) trySend(data []byte) {
	// Unregister closes the send channel, and an emitter may still hold
	// a pre-removal snapshot of this client. Absorb the resulting
	// send-on-closed-channel panic instead of crashing the emitter.
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("dropping slow websocket client",
			"tenant_id", c.tenantID)
		go c.hub.Unregister(c)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// handleWebSocket upgrades the HTTP connection and binds the client to
// the tenant in the path.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		writeBadRequest(w, "tenant id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		tenantID: tenantID,
	}
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// readPump reads (and discards) messages from the connection. The
// stream is one-way; reads exist to observe pongs and disconnects.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
}

// writePump writes queued messages and protocol pings to the connection.
func (c *WSClient) writePump() {
	pingInterval := time.Duration(c.hub.cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write failure surfaces via readPump disconnect
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Write failure surfaces via readPump disconnect
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
