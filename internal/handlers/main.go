package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"iter"
	"log/slog"
	"net/http"
	"time"

	bfchat "github.com/MegaGrindStone/bfchat"
	"github.com/MegaGrindStone/bfchat/internal/models"
)

// LLM represents a large language model interface that provides chat functionality. It accepts a context
// and a sequence of messages, returning an iterator that yields response chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// Summarizer condenses the text of large uploaded files before it is stored as file context.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxTokens int) (string, error)
}

// Store defines the interface for managing chat history and uploaded file context persistence. Every
// operation is scoped by a session ID; a session comes into existence with its first write.
type Store interface {
	History(ctx context.Context, sessionID string) ([]models.Message, error)
	AddMessage(ctx context.Context, sessionID string, message models.Message) error

	AddFileContext(ctx context.Context, fc models.FileContext, notice models.Message) error
	FileContexts(ctx context.Context, sessionID string) ([]models.FileContext, error)
	ClearFileContexts(ctx context.Context, sessionID string) error
}

// Options tunes the upload pipeline and identifies the provider in the health report. Zero values are
// replaced by defaults.
type Options struct {
	Provider           string
	UploadRawThreshold int
	SummaryMaxTokens   int
	MaxUploadSize      int64
}

// Main handles the chat backend: history retrieval, file uploads into the session context, clearing that
// context, and streaming chat turns through server-sent events.
type Main struct {
	templates *template.Template

	llm        LLM
	summarizer Summarizer
	store      Store
	opts       Options

	logger *slog.Logger
}

const (
	errLoggerKey = "err"

	// SessionCookie is set by uploads and chat turns, and the home page falls back to it when no session_id
	// is given. It carries the same value the widget keeps in its storage.
	SessionCookie = "bf_session_id"

	defaultUploadRawThreshold = 2000
	defaultSummaryMaxTokens   = 500
	defaultMaxUploadSize      = 10 << 20
)

// NewMain creates a new Main instance with the provided LLM, Summarizer and Store implementations. It parses
// the HTML templates of the transcript page from the embedded filesystem.
func NewMain(llm LLM, summarizer Summarizer, store Store, opts Options, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		bfchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	if opts.UploadRawThreshold <= 0 {
		opts.UploadRawThreshold = defaultUploadRawThreshold
	}
	if opts.SummaryMaxTokens <= 0 {
		opts.SummaryMaxTokens = defaultSummaryMaxTokens
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = defaultMaxUploadSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return Main{
		templates:  tmpl,
		llm:        llm,
		summarizer: summarizer,
		store:      store,
		opts:       opts,
		logger:     logger.With(slog.String("module", "handlers")),
	}, nil
}

// Routes returns the mux serving the API, the transcript page and the embedded static files.
func (m Main) Routes() (*http.ServeMux, error) {
	staticFS, err := fs.Sub(bfchat.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to open static files: %w", err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/{$}", m.HandleHome)
	mux.HandleFunc("/health", m.HandleHealth)
	mux.HandleFunc("/api/history/{sessionID}", m.HandleHistory)
	mux.HandleFunc("/api/upload", m.HandleUpload)
	mux.HandleFunc("/api/upload/clear", m.HandleClearUploads)
	mux.HandleFunc("/api/chat", m.HandleChat)

	return mux, nil
}

// HandleHealth reports liveness and the configured provider.
func (m Main) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"provider": m.opts.Provider,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// setSessionCookie remembers the session in the browser for a year. Lax same-site keeps it off cross-site
// requests.
func setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
