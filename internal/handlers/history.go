package handlers

import (
	"log/slog"
	"net/http"
)

// HandleHistory returns the persisted messages of the session named in the path, in the order they were
// recorded. Unknown sessions yield an empty array.
func (m Main) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.PathValue("sessionID")
	if sessionID == "" {
		http.Error(w, "Session ID is required", http.StatusBadRequest)
		return
	}

	messages, err := m.store.History(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to get history",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}
