package handlers

import (
	"time"

	"privacyguard/internal/domain/services"
	"privacyguard/internal/streaming"
	"privacyguard/pkg/logger"
)

// Handlers holds all API handlers
type Handlers struct {
	Health    *HealthHandler
	Apps      *AppsHandler
	Scans     *ScansHandler
	Device    *DeviceHandler
	Streaming *StreamingHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Version     string
	Store       services.AppStore
	Merger      *services.ScanMerger
	Verdicts    *services.MalwareVerdictService
	Aggregator  *services.SafetyAggregator
	Trackers    *services.TrackerCatalog
	ScanTimeout time.Duration
	WSHub       *streaming.WebSocketHub
	EventBus    *streaming.EventBus
	Checks      map[string]Pinger
	Logger      *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Checks, deps.Logger),
		Apps:      NewAppsHandler(deps.Store, deps.Verdicts, deps.Trackers, deps.Logger),
		Scans:     NewScansHandler(deps.Merger, deps.ScanTimeout, deps.Logger),
		Device:    NewDeviceHandler(deps.Store, deps.Aggregator, deps.Logger),
		Streaming: NewStreamingHandler(deps.WSHub, deps.EventBus, deps.Logger),
	}
}
