package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	apimiddleware "privacyguard/internal/api/middleware"
	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
	"privacyguard/internal/inventory"
	"privacyguard/pkg/logger"
)

const maxInventoryBytes = 8 << 20

// ScansHandler starts rescans from uploaded inventories
type ScansHandler struct {
	merger  *services.ScanMerger
	timeout time.Duration
	logger  *logger.Logger
}

// NewScansHandler creates a new scans handler. timeout bounds a background
// rescan; zero leaves it unbounded.
func NewScansHandler(merger *services.ScanMerger, timeout time.Duration, log *logger.Logger) *ScansHandler {
	return &ScansHandler{
		merger:  merger,
		timeout: timeout,
		logger:  log.WithComponent("scans-handler"),
	}
}

// ScanAccepted is the body of a 202 from POST /scans
type ScanAccepted struct {
	ScanID   string `json:"scan_id"`
	AppCount int    `json:"app_count"`
	Status   string `json:"status"`
}

// Start handles POST /api/v1/scans. The rescan runs in the background;
// progress and completion are delivered over /scans/ws.
func (h *ScansHandler) Start(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInventoryBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "inventory too large")
		return
	}

	snap, err := inventory.Decode(body, inventory.FormatJSON)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	scanID := uuid.New()
	opts := []services.ScanOption{services.WithScanID(scanID)}
	if src := snap.LevelSource(); src != nil {
		opts = append(opts, services.WithProtectionLevels(src))
	}

	ctx := context.WithoutCancel(r.Context())
	cancel := context.CancelFunc(func() {})
	if h.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
	}

	progress, errs := h.merger.Rescan(ctx, snap.Apps, opts...)

	select {
	case err := <-errs:
		cancel()
		switch {
		case errors.Is(err, services.ErrScanInProgress):
			respondError(w, http.StatusConflict, "a scan is already in progress")
			return
		case err != nil:
			h.logger.Error().Err(err).Str("scan_id", scanID.String()).Msg("rescan failed")
			respondError(w, http.StatusInternalServerError, "rescan failed")
			return
		}
	default:
		go h.drain(scanID, progress, errs, cancel)
	}

	h.logger.Info().Str("scan_id", scanID.String()).Int("apps", len(snap.Apps)).Msg("rescan started")
	w.Header().Set(apimiddleware.ScanIDHeader, scanID.String())
	respondJSON(w, http.StatusAccepted, ScanAccepted{
		ScanID:   scanID.String(),
		AppCount: len(snap.Apps),
		Status:   "accepted",
	})
}

func (h *ScansHandler) drain(scanID uuid.UUID, progress <-chan models.ScanProgress, errs <-chan error, cancel context.CancelFunc) {
	defer cancel()
	for range progress {
	}
	if err := <-errs; err != nil {
		h.logger.Error().Err(err).Str("scan_id", scanID.String()).Msg("background rescan failed")
	}
}

// ScanStatus is the body of GET /scans/current
type ScanStatus struct {
	Running bool `json:"running"`
}

// Current handles GET /api/v1/scans/current
func (h *ScansHandler) Current(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ScanStatus{Running: h.merger.Running()})
}
