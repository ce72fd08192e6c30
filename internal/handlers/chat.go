package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/bfchat/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSE event types for the chat stream.
var (
	sessionSSEType = sse.Type(models.EventSession)
	errorSSEType   = sse.Type(models.EventError)
)

// HandleChat processes a chat turn through an HTTP POST request with a JSON models.ChatRequest body. The last
// message of the request must be the user's new message; it is persisted before the model is called.
//
// The response is a server-sent event stream. The first event has type "session" and carries the session ID,
// which is created when the request has none. Every following default event carries a models.ChatDelta. A
// provider failure is reported with an "error" event. A completed stream ends with a "[DONE]" data event,
// after the full assistant reply has been persisted. If the client goes away the provider call is cancelled
// and nothing more is stored.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %s", err), http.StatusBadRequest)
		return
	}
	if err := validateChatRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	userMsg := req.Messages[len(req.Messages)-1]
	if err := m.store.AddMessage(r.Context(), sessionID, userMsg); err != nil {
		m.logger.Error("Failed to add user message",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conversation, err := m.conversation(r.Context(), sessionID, req.Messages)
	if err != nil {
		m.logger.Error("Failed to build conversation",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set(models.SessionHeader, sessionID)
	setSessionCookie(w, sessionID)
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		m.logger.Error("Failed to upgrade to event stream", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sessMsg := &sse.Message{Type: sessionSSEType}
	sessMsg.AppendData(sessionID)
	if err := m.send(sess, sessMsg); err != nil {
		m.logger.Warn("Client gone before stream start", slog.String(errLoggerKey, err.Error()))
		return
	}

	reply, err := m.stream(r.Context(), sess, conversation)
	if err != nil {
		if errors.Is(err, context.Canceled) || r.Context().Err() != nil {
			m.logger.Info("Chat stream cancelled", slog.String("sessionID", sessionID))
			return
		}
		m.logger.Error("Error from llm provider",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		errMsg := &sse.Message{Type: errorSSEType}
		errMsg.AppendData(err.Error())
		_ = m.send(sess, errMsg)
		return
	}

	// The reply is stored even if the client leaves right after the last delta.
	storeCtx := context.WithoutCancel(r.Context())
	if err := m.store.AddMessage(storeCtx, sessionID, models.Message{
		Role:    models.RoleAssistant,
		Content: reply,
	}); err != nil {
		m.logger.Error("Failed to add assistant message",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		errMsg := &sse.Message{Type: errorSSEType}
		errMsg.AppendData(err.Error())
		_ = m.send(sess, errMsg)
		return
	}

	done := &sse.Message{}
	done.AppendData(models.StreamDone)
	_ = m.send(sess, done)
}

func validateChatRequest(req models.ChatRequest) error {
	if len(req.Messages) == 0 {
		return errors.New("messages are required")
	}
	for i, msg := range req.Messages {
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != models.RoleUser || strings.TrimSpace(last.Content) == "" {
		return errors.New("last message must be a non-empty user message")
	}
	return nil
}

// conversation builds the provider input: one system message per uploaded file of the session, followed by
// the user and assistant turns of the request. System notices shown in the widget are not sent.
func (m Main) conversation(ctx context.Context, sessionID string, messages []models.Message) ([]models.Message, error) {
	files, err := m.store.FileContexts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file contexts: %w", err)
	}

	conv := make([]models.Message, 0, len(files)+len(messages))
	for _, fc := range files {
		conv = append(conv, models.Message{
			Role:    models.RoleSystem,
			Content: fmt.Sprintf("Context from uploaded file %s:\n%s", fc.Filename, fc.Content),
		})
	}
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		conv = append(conv, msg)
	}
	return conv, nil
}

// stream forwards the provider deltas to the client and returns the concatenated reply.
func (m Main) stream(ctx context.Context, sess *sse.Session, conversation []models.Message) (string, error) {
	var reply strings.Builder
	for delta, err := range m.llm.Chat(ctx, conversation) {
		if err != nil {
			return reply.String(), err
		}
		if delta == "" {
			continue
		}
		reply.WriteString(delta)

		data, err := json.Marshal(models.ChatDelta{Content: delta})
		if err != nil {
			return reply.String(), fmt.Errorf("failed to marshal delta: %w", err)
		}
		msg := &sse.Message{}
		msg.AppendData(string(data))
		if err := m.send(sess, msg); err != nil {
			return reply.String(), fmt.Errorf("failed to send delta: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return reply.String(), err
	}
	return reply.String(), nil
}

func (m Main) send(sess *sse.Session, msg *sse.Message) error {
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}
