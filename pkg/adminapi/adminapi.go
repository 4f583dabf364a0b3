// Package adminapi exposes the operator-facing REST surface over
// pkg/core: container status and selection, manual restart and
// unquarantine, configuration, events, maintenance mode, custom probes,
// metrics, and each container's cached external monitor status.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/core"
	"github.com/nullwarden/warden/pkg/evaluator"
	"github.com/nullwarden/warden/pkg/events"
	"github.com/nullwarden/warden/pkg/identity"
	"github.com/nullwarden/warden/pkg/log"
	"github.com/nullwarden/warden/pkg/metrics"
	"github.com/nullwarden/warden/pkg/runtime"
	"github.com/nullwarden/warden/pkg/selection"
)

// Lister is the subset of the runtime the façade needs for read-only
// container listing; satisfied by the runtime adapter passed to
// NewHandler.
type Lister interface {
	List(ctx context.Context, all bool) ([]*runtime.Container, error)
}

// Handler implements the admin REST API over a Core façade.
type Handler struct {
	mux.Router

	core *core.Core
	rt   Lister
}

// NewHandler builds the admin API router, wiring every route to its
// handler method.
func NewHandler(c *core.Core, rt Lister) *Handler {
	h := &Handler{Router: *mux.NewRouter(), core: c, rt: rt}

	h.HandleFunc("/api/v1/status", h.getStatus).Methods(http.MethodGet)
	h.HandleFunc("/api/v1/containers", h.listContainers).Methods(http.MethodGet)
	h.HandleFunc("/api/v1/containers/select", h.selectContainer).Methods(http.MethodPost)
	h.HandleFunc("/api/v1/containers/{stable_id}/restart", h.restartContainer).Methods(http.MethodPost)
	h.HandleFunc("/api/v1/containers/{stable_id}/unquarantine", h.unquarantineContainer).Methods(http.MethodPost)
	h.HandleFunc("/api/v1/containers/{stable_id}/probe", h.setProbe).Methods(http.MethodPut)
	h.HandleFunc("/api/v1/containers/{stable_id}/probe", h.deleteProbe).Methods(http.MethodDelete)

	h.HandleFunc("/api/v1/config", h.getConfig).Methods(http.MethodGet)
	h.HandleFunc("/api/v1/config", h.putConfig).Methods(http.MethodPut)

	h.HandleFunc("/api/v1/events", h.getEvents).Methods(http.MethodGet)
	h.HandleFunc("/api/v1/events", h.clearEvents).Methods(http.MethodDelete)

	h.HandleFunc("/api/v1/maintenance", h.enableMaintenance).Methods(http.MethodPost)
	h.HandleFunc("/api/v1/maintenance", h.disableMaintenance).Methods(http.MethodDelete)

	h.HandleFunc("/api/v1/metrics", h.metricsHandler).Methods(http.MethodGet)

	return h
}

var errStableIDRequired = errors.New("adminapi: stable_id is required")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.WithComponent("adminapi").Error().Err(err).Msg("failed to encode response")
		}
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type statusResponse struct {
	Monitored   int `json:"monitored"`
	Quarantined int `json:"quarantined"`
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	doc := h.core.Store.GetConfig()
	containers, err := h.rt.List(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	monitored := 0
	for _, c := range containers {
		stableID := identity.Resolve(c)
		if selection.IsMonitored(doc, stableID, c) {
			monitored++
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Monitored:   monitored,
		Quarantined: len(h.core.Store.ListQuarantined()),
	})
}

type containerView struct {
	StableID       string `json:"stable_id"`
	Name           string `json:"name"`
	State          string `json:"state"`
	Monitored      bool   `json:"monitored"`
	Quarantined    bool   `json:"quarantined"`
	RestartCount   int    `json:"restart_count"`
	ExternalStatus string `json:"external_status,omitempty"`
}

func externalStatusLabel(s evaluator.ExternalStatus) string {
	switch s {
	case evaluator.ExternalUp:
		return "up"
	case evaluator.ExternalDown:
		return "down"
	case evaluator.ExternalPending:
		return "pending"
	case evaluator.ExternalMaintenance:
		return "maintenance"
	default:
		return ""
	}
}

func (h *Handler) listContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := h.rt.List(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	doc := h.core.Store.GetConfig()
	views := make([]containerView, 0, len(containers))
	for _, c := range containers {
		stableID := identity.Resolve(c)
		view := containerView{
			StableID:     stableID,
			Name:         c.Name,
			State:        string(c.State),
			Monitored:    selection.IsMonitored(doc, stableID, c),
			Quarantined:  h.core.Store.IsQuarantined(stableID),
			RestartCount: h.core.Store.GetRestartCount(stableID),
		}
		if status, ok := h.core.ExternalStatus(stableID); ok {
			view.ExternalStatus = externalStatusLabel(status)
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

type selectRequest struct {
	StableID string `json:"stable_id"`
	Selected bool   `json:"selected"`
}

func (h *Handler) selectContainer(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.StableID == "" {
		writeError(w, http.StatusBadRequest, errStableIDRequired)
		return
	}

	err := h.core.UpdateConfig(func(d *config.Document) error {
		if req.Selected {
			d.Selection.Selected[req.StableID] = true
			delete(d.Selection.Excluded, req.StableID)
		} else {
			delete(d.Selection.Selected, req.StableID)
			d.Selection.Excluded[req.StableID] = true
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) restartContainer(w http.ResponseWriter, r *http.Request) {
	stableID := mux.Vars(r)["stable_id"]
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := h.core.RestartNow(ctx, stableID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	h.core.Bus.Publish(&events.Event{
		StableID: stableID,
		Kind:     events.KindRestart,
		Status:   events.StatusSuccess,
		Message:  "manually restarted via admin API",
	})
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) unquarantineContainer(w http.ResponseWriter, r *http.Request) {
	stableID := mux.Vars(r)["stable_id"]
	if err := h.core.Store.Unquarantine(stableID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.core.Store.ClearRestarts(stableID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) setProbe(w http.ResponseWriter, r *http.Request) {
	stableID := mux.Vars(r)["stable_id"]
	var probe config.Probe
	if err := json.NewDecoder(r.Body).Decode(&probe); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.core.Store.SetCustomProbe(stableID, probe); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) deleteProbe(w http.ResponseWriter, r *http.Request) {
	stableID := mux.Vars(r)["stable_id"]
	if err := h.core.Store.DeleteCustomProbe(stableID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Store.GetConfig())
}

func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.Document
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.core.UpdateConfig(func(d *config.Document) error {
		*d = incoming
		return nil
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) getEvents(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			n = parsed
		}
	}
	writeJSON(w, http.StatusOK, h.core.Store.GetEvents(n))
}

func (h *Handler) clearEvents(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Store.ClearEvents(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) enableMaintenance(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Store.SetMaintenance(true); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) disableMaintenance(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Store.SetMaintenance(false); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) metricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}
