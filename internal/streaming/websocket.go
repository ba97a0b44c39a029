package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"privacyguard/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS middleware
		return true
	},
}

// WebSocketHub fans scan events out to connected WebSocket clients
type WebSocketHub struct {
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[*WebSocketClient]bool

	broadcast chan *ScanEvent
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	hub    *WebSocketHub
	conn   *websocket.Conn
	send   chan []byte
	logger *logger.Logger

	subMu        sync.RWMutex
	subscription *Subscription
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub(log *logger.Logger) *WebSocketHub {
	return &WebSocketHub{
		logger:    log.WithComponent("websocket-hub"),
		clients:   make(map[*WebSocketClient]bool),
		broadcast: make(chan *ScanEvent, 256),
	}
}

// Run starts the hub's main loop
func (h *WebSocketHub) Run(ctx context.Context) {
	h.logger.Info().Msg("WebSocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("WebSocket hub stopping")
			h.closeAllClients()
			return
		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// BroadcastEvent queues an event for delivery without blocking
func (h *WebSocketHub) BroadcastEvent(event *ScanEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping event")
	}
}

func (h *WebSocketHub) broadcastEvent(event *ScanEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// slow client, skip
		}
	}
}

func (h *WebSocketHub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *WebSocketHub) registerClient(client *WebSocketClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.logger.Info().Int("clients", len(h.clients)).Msg("client connected")
}

func (h *WebSocketHub) unregisterClient(client *WebSocketClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Info().Int("clients", len(h.clients)).Msg("client disconnected")
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWebSocket upgrades the request and registers the client. Query
// parameter scan_id pre-filters events to one rescan.
func (h *WebSocketHub) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &WebSocketClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: h.logger,
	}
	if scanID := r.URL.Query().Get("scan_id"); scanID != "" {
		client.subscription = &Subscription{ScanID: scanID}
	}

	h.registerClient(client)

	go client.writePump()
	go client.readPump()
}

func (c *WebSocketClient) wants(event *ScanEvent) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscription == nil || c.subscription.Matches(event)
}

// readPump accepts subscription updates from the client
func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			break
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			c.logger.Debug().Err(err).Msg("ignoring malformed subscription")
			continue
		}
		c.subMu.Lock()
		c.subscription = &sub
		c.subMu.Unlock()
		c.logger.Debug().Int("types", len(sub.Types)).Str("scan_id", sub.ScanID).Msg("subscription updated")
	}
}

// writePump writes one event per text frame and keeps the connection alive
func (c *WebSocketClient) writePump() {
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
