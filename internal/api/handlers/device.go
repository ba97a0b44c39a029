package handlers

import (
	"net/http"

	"privacyguard/internal/domain/services"
	"privacyguard/pkg/logger"
)

// DeviceHandler serves the device-level safety verdict
type DeviceHandler struct {
	store      services.AppStore
	aggregator *services.SafetyAggregator
	logger     *logger.Logger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(store services.AppStore, aggregator *services.SafetyAggregator, log *logger.Logger) *DeviceHandler {
	return &DeviceHandler{
		store:      store,
		aggregator: aggregator,
		logger:     log.WithComponent("device-handler"),
	}
}

// Safety handles GET /api/v1/device/safety
func (h *DeviceHandler) Safety(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.GetAll(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load records")
		respondError(w, http.StatusInternalServerError, "failed to compute device safety")
		return
	}
	respondJSON(w, http.StatusOK, h.aggregator.AggregateRecords(records))
}
