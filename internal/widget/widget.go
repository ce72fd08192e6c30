package widget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/MegaGrindStone/bfchat/internal/api"
	"github.com/MegaGrindStone/bfchat/internal/models"
)

// Backend is the chat backend as seen by the widget. api.Client implements it.
type Backend interface {
	History(ctx context.Context, sessionID string) ([]models.Message, error)
	Upload(ctx context.Context, sessionID, filename string, content io.Reader) (models.UploadResponse, error)
	ClearUploads(ctx context.Context, sessionID string) error
	Chat(ctx context.Context, req models.ChatRequest) iter.Seq2[api.ChatEvent, error]
}

// File is a file selected for upload.
type File struct {
	Name    string
	Content io.Reader
}

// Widget ties the session token, the message store and the backend together. Its controllers append the
// notices the user sees; every controller also returns its error for callers that want it.
//
// A controller whose context is cancelled before it finishes discards its outcome: it appends nothing and
// leaves the token untouched. NewChat and Close cancel every controller in flight.
//
// Store subscribers are called while the widget applies an outcome, so they must not call Widget methods
// synchronously.
type Widget struct {
	backend Backend
	session SessionHolder
	store   *MessageStore

	// applyMu serialises the check of a controller's context with the application of its outcome, so that
	// a cancellation either happens before the outcome is applied or after it.
	applyMu sync.Mutex

	mu       sync.Mutex
	inFlight map[int]context.CancelFunc
	nextID   int
	closed   bool

	logger *slog.Logger
}

// Notice texts appended to the store.
const (
	noticeUploaded     = "📎 %s uploaded and added to context."
	noticeUploadFailed = "❌ File upload failed: %s"
	noticeUploadError  = "❌ Upload error: %s"
	noticeCleared      = "🗑️ All uploaded files removed from context."
	noticeClearFailed  = "❌ Failed to clear uploaded files."
	noticeClearError   = "❌ Error clearing files: %s"
	noticeHistoryError = "❌ Failed to load history: %s"
	noticeChatError    = "❌ Chat error: %s"

	errLoggerKey = "err"
)

var (
	// ErrNoFile is returned by Upload when no file is selected.
	ErrNoFile = errors.New("no file selected")
	// ErrEmptyMessage is returned by Send for a blank message.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrClosed is returned by controllers started after Close.
	ErrClosed = errors.New("widget is closed")
)

// New creates a Widget. The session token is kept in storage under SessionKey.
func New(backend Backend, storage Storage, store *MessageStore, logger *slog.Logger) *Widget {
	if logger == nil {
		logger = slog.Default()
	}
	return &Widget{
		backend:  backend,
		session:  NewSessionHolder(storage),
		store:    store,
		inFlight: map[int]context.CancelFunc{},
		logger:   logger.With(slog.String("module", "widget")),
	}
}

// Store returns the message store of the widget.
func (w *Widget) Store() *MessageStore {
	return w.store
}

// Session returns the holder of the session token.
func (w *Widget) Session() SessionHolder {
	return w.session
}

// LoadHistory replaces the messages of the store with the persisted history of the current session. It does
// nothing without a session. On failure a notice is appended and the store is otherwise left as is.
func (w *Widget) LoadHistory(ctx context.Context) error {
	ctx, release, err := w.track(ctx)
	if err != nil {
		return err
	}
	defer release()

	token, ok, err := w.session.Get()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	messages, err := w.backend.History(ctx, token)

	return w.apply(ctx, func() error {
		if err != nil {
			w.logger.Error("Failed to load history",
				slog.String("sessionID", token),
				slog.String(errLoggerKey, err.Error()))
			w.notice(fmt.Sprintf(noticeHistoryError, err))
			return err
		}
		w.store.Replace(messages)
		return nil
	})
}

// Upload sends the first of files to the context of the current session. The backend may issue a new
// session, which then becomes the current one.
func (w *Widget) Upload(ctx context.Context, files ...File) error {
	if len(files) == 0 {
		return ErrNoFile
	}
	file := files[0]

	ctx, release, err := w.track(ctx)
	if err != nil {
		return err
	}
	defer release()

	token, _, err := w.session.Get()
	if err != nil {
		return err
	}

	res, err := w.backend.Upload(ctx, token, file.Name, file.Content)

	return w.apply(ctx, func() error {
		if err != nil {
			w.logger.Error("Failed to upload file",
				slog.String("filename", file.Name),
				slog.String(errLoggerKey, err.Error()))
			var statusErr *api.StatusError
			if errors.As(err, &statusErr) {
				w.notice(fmt.Sprintf(noticeUploadFailed, file.Name))
			} else {
				w.notice(fmt.Sprintf(noticeUploadError, err))
			}
			return err
		}

		if res.SessionID != "" {
			if err := w.session.Set(res.SessionID); err != nil {
				return err
			}
		}
		w.notice(fmt.Sprintf(noticeUploaded, res.Filename))
		return nil
	})
}

// ClearFiles removes the uploaded files from the context of the current session. It does nothing without a
// session. The token is never changed.
func (w *Widget) ClearFiles(ctx context.Context) error {
	ctx, release, err := w.track(ctx)
	if err != nil {
		return err
	}
	defer release()

	token, ok, err := w.session.Get()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	err = w.backend.ClearUploads(ctx, token)

	return w.apply(ctx, func() error {
		if err != nil {
			w.logger.Error("Failed to clear files",
				slog.String("sessionID", token),
				slog.String(errLoggerKey, err.Error()))
			var statusErr *api.StatusError
			if errors.As(err, &statusErr) {
				w.notice(noticeClearFailed)
			} else {
				w.notice(fmt.Sprintf(noticeClearError, err))
			}
			return err
		}
		w.notice(noticeCleared)
		return nil
	})
}

// Send appends text as a user message and streams the assistant reply. onDelta, when not nil, receives each
// piece of the reply as it arrives; the complete reply is appended once the stream is done. A session issued
// by the backend becomes the current one.
func (w *Widget) Send(ctx context.Context, text string, onDelta func(string)) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	ctx, release, err := w.track(ctx)
	if err != nil {
		return err
	}
	defer release()

	token, _, err := w.session.Get()
	if err != nil {
		return err
	}

	w.store.AddMessage(models.Message{Role: models.RoleUser, Content: text})
	req := models.ChatRequest{SessionID: token, Messages: w.store.Messages()}

	var (
		reply     strings.Builder
		streamErr error
	)
	for ev, err := range w.backend.Chat(ctx, req) {
		if err != nil {
			streamErr = err
			break
		}
		if ev.SessionID != "" && ev.SessionID != token {
			sessionID := ev.SessionID
			if err := w.apply(ctx, func() error { return w.session.Set(sessionID) }); err != nil {
				streamErr = err
				break
			}
			token = sessionID
		}
		if ev.Delta != "" {
			reply.WriteString(ev.Delta)
			if onDelta != nil {
				onDelta(ev.Delta)
			}
		}
	}

	return w.apply(ctx, func() error {
		if streamErr != nil {
			w.logger.Error("Chat turn failed", slog.String(errLoggerKey, streamErr.Error()))
			w.notice(fmt.Sprintf(noticeChatError, streamErr))
			return streamErr
		}
		w.store.AddMessage(models.Message{Role: models.RoleAssistant, Content: reply.String()})
		return nil
	})
}

// NewChat cancels every controller in flight, forgets the session and empties the store.
func (w *Widget) NewChat() error {
	w.cancelInFlight()

	w.applyMu.Lock()
	defer w.applyMu.Unlock()

	if err := w.session.Clear(); err != nil {
		return err
	}
	w.store.ClearMessages()
	return nil
}

// Close cancels every controller in flight. Controllers started afterwards fail with ErrClosed.
func (w *Widget) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.cancelInFlight()
}

// Go runs fn in its own goroutine and returns its Task. The task is cancelled by NewChat and Close like any
// controller in flight.
func Go[T any](w *Widget, ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	return startTask(ctx, func(ctx context.Context) (T, error) {
		ctx, release, err := w.track(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		defer release()
		return fn(ctx)
	})
}

// track derives a context that NewChat and Close can cancel. release must be called when the controller is
// done.
func (w *Widget) track(ctx context.Context) (context.Context, func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	id := w.nextID
	w.nextID++
	w.inFlight[id] = cancel

	return ctx, func() {
		w.mu.Lock()
		delete(w.inFlight, id)
		w.mu.Unlock()
		cancel()
	}, nil
}

func (w *Widget) cancelInFlight() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, cancel := range w.inFlight {
		cancel()
	}
}

// apply runs fn unless ctx is already cancelled, in which case the outcome is discarded.
func (w *Widget) apply(ctx context.Context, fn func() error) error {
	w.applyMu.Lock()
	defer w.applyMu.Unlock()

	if err := ctx.Err(); err != nil {
		w.logger.Debug("Discarding outcome of cancelled controller", slog.String(errLoggerKey, err.Error()))
		return err
	}
	return fn()
}

func (w *Widget) notice(content string) {
	w.store.AddMessage(models.Message{Role: models.RoleSystem, Content: content})
}
