package api

import (
	"encoding/json"
	"net/http"

	"github.com/joules/server/logger"
	"github.com/joules/server/meeting"
)

// MeetingHandler handles meeting history REST endpoints.
type MeetingHandler struct {
	store meeting.Store
}

func NewMeetingHandler(store meeting.Store) *MeetingHandler {
	return &MeetingHandler{store: store}
}

// HandleList handles GET /api/meetings
func (h *MeetingHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	meetings, err := h.store.List()
	if err != nil {
		logger.Error("Failed to list meetings: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"meetings": meetings,
	})
}

// HandleGet handles GET /api/meetings/{id}
func (h *MeetingHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	m, found, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		logger.Error("Failed to get meeting: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Meeting not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// HandleDelete handles DELETE /api/meetings/{id}. Callers confirm with the
// user before sending it.
func (h *MeetingHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "Meeting ID required", http.StatusBadRequest)
		return
	}

	found, err := h.store.Delete(r.Context(), id)
	if err != nil {
		logger.Error("Failed to delete meeting %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Meeting not found", http.StatusNotFound)
		return
	}

	logger.Info("Deleted meeting %s", id)
	w.WriteHeader(http.StatusNoContent)
}

// HandleClear handles DELETE /api/meetings
func (h *MeetingHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		logger.Error("Failed to clear meetings: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.Info("Cleared meeting history")
	w.WriteHeader(http.StatusNoContent)
}

// Register registers meeting handlers to the given mux.
func (h *MeetingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/meetings", h.HandleList)
	mux.HandleFunc("GET /api/meetings/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/meetings/{id}", h.HandleDelete)
	mux.HandleFunc("DELETE /api/meetings", h.HandleClear)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
