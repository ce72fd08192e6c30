package handlers

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/bfchat/internal/models"
)

type message struct {
	Role string
	HTML template.HTML
}

type homePageData struct {
	SessionID string
	Messages  []message
}

// HandleHome renders the transcript of a session as a read-only page. The session is taken from the
// "session_id" query value, or from the session cookie. Without a session the page is empty.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			sessionID = c.Value
		}
	}

	data := homePageData{SessionID: sessionID}
	if sessionID != "" {
		history, err := m.store.History(r.Context(), sessionID)
		if err != nil {
			m.logger.Error("Failed to get history",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		data.Messages = make([]message, len(history))
		for i, msg := range history {
			html, err := models.RenderMarkdown(msg.Content)
			if err != nil {
				m.logger.Error("Failed to render message",
					slog.String("message", msg.Content),
					slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			data.Messages[i] = message{Role: string(msg.Role), HTML: html}
		}
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
