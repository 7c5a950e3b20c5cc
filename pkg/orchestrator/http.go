package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
	"github.com/synaptica-ai/bedside-sim/pkg/device"
	"github.com/synaptica-ai/bedside-sim/pkg/journal"
	"github.com/synaptica-ai/bedside-sim/pkg/observability/metrics"
)

const defaultHistoryLimit = 50

// History serves the lifecycle events recorded for a device.
type History interface {
	History(ctx context.Context, deviceID string, limit int) ([]journal.Record, error)
}

type HTTPHandler struct {
	service *Service
	history History
}

// NewHTTPHandler builds the control API. history may be nil when the
// journal is disabled.
func NewHTTPHandler(service *Service, history History) *HTTPHandler {
	return &HTTPHandler{service: service, history: history}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/streams", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/streams/ecg", h.handleStartECG).Methods(http.MethodPost)
	router.HandleFunc("/streams/vitals", h.handleStartLonely).Methods(http.MethodPost)
	router.HandleFunc("/streams/ecg/{id}/vitals", h.handleAddVitals).Methods(http.MethodPost)
	router.HandleFunc("/streams/ecg/{id}/vitals", h.handleRemoveVitals).Methods(http.MethodDelete)
	router.HandleFunc("/streams/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/streams/{id}", h.handleStop).Methods(http.MethodDelete)
	router.HandleFunc("/streams/{id}/events", h.handleEvents).Methods(http.MethodGet)
}

// NewRouter mounts the handler under /api/v1 next to health and metrics.
func NewRouter(h *HTTPHandler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	h.Register(api)
	return router
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"streams": h.service.List(),
	})
}

func (h *HTTPHandler) handleStartECG(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.StartECG(r.Context())
	if err != nil {
		writeError(w, err, "failed to start ECG stream")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *HTTPHandler) handleStartLonely(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.StartLonelyVitals(r.Context())
	if err != nil {
		writeError(w, err, "failed to start vitals stream")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *HTTPHandler) handleAddVitals(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.AddVitals(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err, "failed to add vitals stream")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *HTTPHandler) handleRemoveVitals(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveVitals(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err, "failed to remove vitals stream")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, ok := h.service.Lookup(id)
	if !ok {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *HTTPHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Stop(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err, "failed to stop stream")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "journal disabled", http.StatusNotImplemented)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	id := mux.Vars(r)["id"]
	records, err := h.history.History(r.Context(), id, limit)
	if err != nil {
		logger.Log.WithError(err).WithField("device_id", id).Error("failed to load stream history")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id": id,
		"events":    records,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, device.ErrAlreadyPaired), errors.Is(err, device.ErrDuplicateIdentity):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidSelection), errors.Is(err, ErrNotECG),
		errors.Is(err, device.ErrPatientMismatch), errors.Is(err, device.ErrKindMismatch):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Log.WithError(err).Error(msg)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
