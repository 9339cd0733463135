package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/gheezy/signalengine/internal/engine"
	"github.com/gheezy/signalengine/internal/persistence"
	"github.com/gheezy/signalengine/internal/tracker"
)

// Handlers holds the endpoint implementations and their dependencies.
type Handlers struct {
	engine  *engine.Engine
	tracker *tracker.Tracker
	store   persistence.SignalStore
}

func NewHandlers(eng *engine.Engine, trk *tracker.Tracker, store persistence.SignalStore) *Handlers {
	return &Handlers{engine: eng, tracker: trk, store: store}
}

type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.writeJSON(w, status, errorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Evaluate runs the full scoring pipeline for one subject and symbol and
// persists the resulting signal.
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	subjectID, err := strconv.ParseInt(vars["subject"], 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "subject must be an integer id")
		return
	}
	symbol := vars["symbol"]
	if symbol == "" {
		h.writeError(w, r, http.StatusBadRequest, "symbol is required")
		return
	}

	sig, err := h.engine.Evaluate(r.Context(), subjectID, symbol)
	switch {
	case errors.Is(err, persistence.ErrDuplicateSignal):
		h.writeError(w, r, http.StatusConflict, "a pending signal already exists for this subject and symbol")
	case err != nil:
		h.writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		h.writeJSON(w, http.StatusCreated, sig)
	}
}

// CheckPending sweeps the subject's mature pending signals and grades them.
func (h *Handlers) CheckPending(w http.ResponseWriter, r *http.Request) {
	subjectID, err := strconv.ParseInt(mux.Vars(r)["subject"], 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "subject must be an integer id")
		return
	}
	symbol := r.URL.Query().Get("symbol")

	summary, err := h.tracker.CheckPending(r.Context(), subjectID, symbol)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// Stats returns the subject's win/loss aggregates.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	subjectID, err := strconv.ParseInt(mux.Vars(r)["subject"], 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "subject must be an integer id")
		return
	}
	symbol := r.URL.Query().Get("symbol")

	stats, err := h.store.Stats(r.Context(), subjectID, symbol)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// GetSignal fetches a single signal by id, breakdown included.
func (h *Handlers) GetSignal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sig, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, http.StatusNotFound, "signal not found")
		return
	}
	h.writeJSON(w, http.StatusOK, sig)
}

// NotFound handles unknown routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeError(w, r, http.StatusNotFound, "the requested endpoint does not exist")
}
