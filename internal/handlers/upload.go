package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/bfchat/internal/models"
	"github.com/google/uuid"
)

// HandleUpload accepts a multipart file and adds its text to the context of the session given by the
// "session_id" form or query value. A new session is created when none is given, and its ID is returned so
// the widget can adopt it.
//
// Text longer than the raw threshold is summarised by the configured provider. If summarisation fails,
// the leading part of the text is stored instead and the notice says so. Either way a system notice is
// recorded in the session history.
func (m Main) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, m.opts.MaxUploadSize)
	if err := r.ParseMultipartForm(m.opts.MaxUploadSize); err != nil {
		m.logger.Error("Failed to parse upload", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := extractText(header.Filename, file)
	if err != nil {
		if errors.Is(err, errUnsupportedFile) {
			http.Error(w, "Unsupported file type", http.StatusBadRequest)
			return
		}
		m.logger.Error("Failed to extract text",
			slog.String("filename", header.Filename),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, fmt.Sprintf("Failed to process file: %s", err), http.StatusInternalServerError)
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	processed, notice := m.processUpload(r, header.Filename, content)

	fc := models.FileContext{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Filename:  header.Filename,
		Content:   processed,
		CreatedAt: time.Now(),
	}
	noticeMsg := models.Message{Role: models.RoleSystem, Content: notice}
	if err := m.store.AddFileContext(r.Context(), fc, noticeMsg); err != nil {
		m.logger.Error("Failed to store file context",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, fmt.Sprintf("Failed to process file: %s", err), http.StatusInternalServerError)
		return
	}

	m.logger.Info("File uploaded",
		slog.String("sessionID", sessionID),
		slog.String("filename", header.Filename),
		slog.Int("length", len(processed)))

	setSessionCookie(w, sessionID)
	writeJSON(w, http.StatusOK, models.UploadResponse{
		SessionID: sessionID,
		Filename:  header.Filename,
		Status:    "saved",
	})
}

// processUpload returns the text to store and the notice that announces it.
func (m Main) processUpload(r *http.Request, filename, content string) (string, string) {
	runes := []rune(content)
	if len(runes) <= m.opts.UploadRawThreshold {
		return content, fmt.Sprintf("%s %s uploaded and added to context.", models.FileNoticePrefix, filename)
	}

	summary, err := m.summarizer.Summarize(r.Context(), content, m.opts.SummaryMaxTokens)
	if err != nil {
		m.logger.Warn("Summarisation failed, storing partial content",
			slog.String("filename", filename),
			slog.String(errLoggerKey, err.Error()))
		return string(runes[:m.opts.UploadRawThreshold]), fmt.Sprintf(
			"%s %s uploaded (partial content stored, summarisation failed). Error: %s",
			models.FileNoticePrefix, filename, err)
	}

	return summary, fmt.Sprintf("%s %s uploaded — summarised and added to context.", models.FileNoticePrefix, filename)
}

// HandleClearUploads removes every uploaded file of the session from its context, along with the file
// notices in its history.
func (m Main) HandleClearUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusUnprocessableEntity)
		return
	}

	if err := m.store.ClearFileContexts(r.Context(), sessionID); err != nil {
		m.logger.Error("Failed to clear files",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, fmt.Sprintf("Failed to clear files: %s", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
