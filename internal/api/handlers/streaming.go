package handlers

import (
	"net/http"

	"privacyguard/internal/streaming"
	"privacyguard/pkg/logger"
)

// StreamingHandler handles real-time scan event endpoints
type StreamingHandler struct {
	wsHub    *streaming.WebSocketHub
	eventBus *streaming.EventBus
	logger   *logger.Logger
}

// NewStreamingHandler creates a new streaming handler
func NewStreamingHandler(wsHub *streaming.WebSocketHub, eventBus *streaming.EventBus, log *logger.Logger) *StreamingHandler {
	return &StreamingHandler{
		wsHub:    wsHub,
		eventBus: eventBus,
		logger:   log.WithComponent("streaming-handler"),
	}
}

// HandleWebSocket handles GET /api/v1/scans/ws
func (h *StreamingHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		respondError(w, http.StatusServiceUnavailable, "WebSocket streaming not available")
		return
	}

	h.logger.Debug().
		Str("remote_addr", r.RemoteAddr).
		Str("user_agent", r.UserAgent()).
		Msg("WebSocket connection request")

	h.wsHub.ServeWebSocket(w, r)
}

// GetStats handles GET /api/v1/scans/stream/stats
func (h *StreamingHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]int{
		"websocket_clients":     0,
		"event_bus_subscribers": 0,
	}
	if h.wsHub != nil {
		stats["websocket_clients"] = h.wsHub.ClientCount()
	}
	if h.eventBus != nil {
		stats["event_bus_subscribers"] = h.eventBus.SubscriberCount()
	}
	respondJSON(w, http.StatusOK, stats)
}
