package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
	"privacyguard/pkg/logger"
)

// AppsHandler serves persisted application records
type AppsHandler struct {
	store    services.AppStore
	verdicts *services.MalwareVerdictService
	trackers *services.TrackerCatalog
	logger   *logger.Logger
}

// NewAppsHandler creates a new apps handler. verdicts may be nil when no
// malware intelligence service is configured; a nil trackers uses the
// built-in catalog.
func NewAppsHandler(store services.AppStore, verdicts *services.MalwareVerdictService, trackers *services.TrackerCatalog, log *logger.Logger) *AppsHandler {
	if trackers == nil {
		trackers = services.NewTrackerCatalog()
	}
	return &AppsHandler{
		store:    store,
		verdicts: verdicts,
		trackers: trackers,
		logger:   log.WithComponent("apps-handler"),
	}
}

// AppListResponse is the body of GET /apps
type AppListResponse struct {
	Apps  []models.ApplicationRecord `json:"apps"`
	Count int                        `json:"count"`
}

// TrackerInfo describes one tracker bundled in an app
type TrackerInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AppDetailResponse is the body of GET /apps/{id}
type AppDetailResponse struct {
	models.ApplicationRecord
	Trackers []TrackerInfo `json:"trackers"`
}

// List handles GET /api/v1/apps
func (h *AppsHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.GetAll(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list apps")
		respondError(w, http.StatusInternalServerError, "failed to list apps")
		return
	}
	if records == nil {
		records = []models.ApplicationRecord{}
	}
	respondJSON(w, http.StatusOK, AppListResponse{Apps: records, Count: len(records)})
}

// Get handles GET /api/v1/apps/{id}
func (h *AppsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.storeError(w, id, err)
		return
	}

	names := h.trackers.TrackersFor(record.PackageName)
	trackers := make([]TrackerInfo, 0, len(names))
	for _, name := range names {
		trackers = append(trackers, TrackerInfo{Name: name, Description: h.trackers.Describe(name)})
	}
	respondJSON(w, http.StatusOK, AppDetailResponse{ApplicationRecord: *record, Trackers: trackers})
}

// MalwareCheck handles POST /api/v1/apps/{id}/malware-check
func (h *AppsHandler) MalwareCheck(w http.ResponseWriter, r *http.Request) {
	if h.verdicts == nil {
		respondError(w, http.StatusServiceUnavailable, "malware intelligence is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = parsed
	}

	record, err := h.verdicts.Check(r.Context(), id, force)
	if err != nil {
		h.storeError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// DeleteAll handles DELETE /api/v1/apps
func (h *AppsHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAll(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("failed to delete apps")
		respondError(w, http.StatusInternalServerError, "failed to delete apps")
		return
	}
	h.logger.Info().Msg("all application records deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *AppsHandler) storeError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, services.ErrAppNotFound) {
		respondError(w, http.StatusNotFound, "app not found")
		return
	}
	h.logger.Error().Err(err).Str("package", id).Msg("app store error")
	respondError(w, http.StatusInternalServerError, "internal error")
}
