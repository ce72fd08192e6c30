package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/bfchat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Client talks to the chat backend over HTTP.
type Client struct {
	baseURL string
	client  *http.Client

	logger *slog.Logger
}

// StatusError is returned when the backend answers with a non-success status.
type StatusError struct {
	Code int
	Body string
}

// ChatEvent is one element of a chat stream. Exactly one of its fields is set: SessionID for the leading
// session event, Delta for a piece of the assistant reply.
type ChatEvent struct {
	SessionID string
	Delta     string
}

// ErrStreamInterrupted is returned when a chat stream ends before the backend marked it done.
var ErrStreamInterrupted = errors.New("chat stream ended unexpectedly")

const errLoggerKey = "err"

// New creates a Client for the backend at baseURL. A nil httpClient uses http.DefaultClient, a nil logger
// uses slog.Default.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		logger:  logger.With(slog.String("module", "api")),
	}
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.Code, e.Body)
}

// History returns the persisted messages of the session, in order.
func (c Client) History(ctx context.Context, sessionID string) ([]models.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/history/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var messages []models.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return messages, nil
}

// Upload sends a file to the context of the session. An empty sessionID lets the backend create a session,
// whose ID is returned in the response.
func (c Client) Upload(
	ctx context.Context,
	sessionID, filename string,
	content io.Reader,
) (models.UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return models.UploadResponse{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fw, content); err != nil {
		return models.UploadResponse{}, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if sessionID != "" {
		if err := mw.WriteField("session_id", sessionID); err != nil {
			return models.UploadResponse{}, fmt.Errorf("failed to write session field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return models.UploadResponse{}, fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return models.UploadResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return models.UploadResponse{}, err
	}
	defer resp.Body.Close()

	var res models.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return models.UploadResponse{}, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return res, nil
}

// ClearUploads removes every uploaded file from the context of the session.
func (c Client) ClearUploads(ctx context.Context, sessionID string) error {
	q := url.Values{"session_id": []string{sessionID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/upload/clear?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Chat sends a chat turn and streams the backend events. The first event carries the session ID. The
// iterator stops after the stream is done; an error event of the backend is yielded as an error. Breaking
// out of the loop or cancelling ctx closes the connection.
func (c Client) Chat(ctx context.Context, chatReq models.ChatRequest) iter.Seq2[ChatEvent, error] {
	return func(yield func(ChatEvent, error) bool) {
		body, err := json.Marshal(chatReq)
		if err != nil {
			yield(ChatEvent{}, fmt.Errorf("failed to marshal request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			yield(ChatEvent{}, fmt.Errorf("failed to create request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.do(req)
		if err != nil {
			yield(ChatEvent{}, err)
			return
		}
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield(ChatEvent{}, fmt.Errorf("failed to read stream: %w", err))
				return
			}

			switch ev.Type {
			case models.EventSession:
				if !yield(ChatEvent{SessionID: ev.Data}, nil) {
					return
				}
				continue
			case models.EventError:
				yield(ChatEvent{}, fmt.Errorf("backend error: %s", ev.Data))
				return
			}

			if ev.Data == models.StreamDone {
				return
			}

			var delta models.ChatDelta
			if err := json.Unmarshal([]byte(ev.Data), &delta); err != nil {
				c.logger.Warn("Skipping malformed chat event",
					slog.String("data", ev.Data),
					slog.String(errLoggerKey, err.Error()))
				continue
			}
			if !yield(ChatEvent{Delta: delta.Content}, nil) {
				return
			}
		}

		if err := ctx.Err(); err != nil {
			yield(ChatEvent{}, err)
			return
		}
		yield(ChatEvent{}, ErrStreamInterrupted)
	}
}

// do sends req and turns a non-success answer into a *StatusError.
func (c Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Debug("Backend returned error status",
			slog.String("url", req.URL.String()),
			slog.Int("status", resp.StatusCode))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}
