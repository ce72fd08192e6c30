package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MegaGrindStone/bfchat/internal/api"
	"github.com/MegaGrindStone/bfchat/internal/handlers"
	"github.com/MegaGrindStone/bfchat/internal/models"
	"github.com/MegaGrindStone/bfchat/internal/services"
)

func newBackend(t *testing.T) (*httptest.Server, services.BoltDB) {
	t.Helper()

	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock := services.NewMock("Hello from the mock", 0)
	m, err := handlers.NewMain(mock, mock, db, handlers.Options{
		Provider:           "mock",
		UploadRawThreshold: 10,
	}, nil)
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	mux, err := m.Routes()
	if err != nil {
		t.Fatalf("Routes() error = %v", err)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, db
}

func TestClientSessionFlow(t *testing.T) {
	srv, _ := newBackend(t)
	client := api.New(srv.URL+"/", nil, nil)
	ctx := context.Background()

	res, err := client.Upload(ctx, "", "notes.txt", strings.NewReader("short"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.SessionID == "" || res.Filename != "notes.txt" {
		t.Fatalf("Upload() = %+v, want a session and the filename", res)
	}
	sessionID := res.SessionID

	var (
		gotSession string
		reply      strings.Builder
	)
	req := models.ChatRequest{
		SessionID: sessionID,
		Messages:  []models.Message{{Role: models.RoleUser, Content: "Hi"}},
	}
	for ev, err := range client.Chat(ctx, req) {
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if ev.SessionID != "" {
			gotSession = ev.SessionID
		}
		reply.WriteString(ev.Delta)
	}
	if gotSession != sessionID {
		t.Errorf("chat session = %q, want %q", gotSession, sessionID)
	}
	if reply.String() != "Hello from the mock" {
		t.Errorf("chat reply = %q, want %q", reply.String(), "Hello from the mock")
	}

	history, err := client.History(ctx, sessionID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	want := []models.Message{
		{Role: models.RoleSystem, Content: "📎 notes.txt uploaded and added to context."},
		{Role: models.RoleUser, Content: "Hi"},
		{Role: models.RoleAssistant, Content: "Hello from the mock"},
	}
	if len(history) != len(want) {
		t.Fatalf("History() = %+v, want %+v", history, want)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, history[i], want[i])
		}
	}

	if err := client.ClearUploads(ctx, sessionID); err != nil {
		t.Fatalf("ClearUploads() error = %v", err)
	}
	history, err = client.History(ctx, sessionID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Role != models.RoleUser {
		t.Errorf("History() after clear = %+v, want the chat turn only", history)
	}
}

func TestClientUploadSummaryFallback(t *testing.T) {
	srv, db := newBackend(t)
	client := api.New(srv.URL, nil, nil)
	ctx := context.Background()

	res, err := client.Upload(ctx, "s1", "long.md", strings.NewReader("0123456789abcdef"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.SessionID != "s1" {
		t.Errorf("Upload() session = %q, want s1", res.SessionID)
	}

	files, err := db.FileContexts(ctx, "s1")
	if err != nil {
		t.Fatalf("FileContexts() error = %v", err)
	}
	if len(files) != 1 || files[0].Content != "0123456789" {
		t.Errorf("FileContexts() = %+v, want the first 10 characters", files)
	}

	history, err := client.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || !strings.Contains(history[0].Content, "summarisation failed") {
		t.Errorf("History() = %+v, want the partial content notice", history)
	}
}

func TestClientStatusErrors(t *testing.T) {
	srv, _ := newBackend(t)
	client := api.New(srv.URL, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		call     func() error
		wantCode int
	}{
		{
			name: "Unsupported upload",
			call: func() error {
				_, err := client.Upload(ctx, "", "image.png", strings.NewReader("png"))
				return err
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "Clear without session",
			call:     func() error { return client.ClearUploads(ctx, "") },
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name: "Chat without user message",
			call: func() error {
				for _, err := range client.Chat(ctx, models.ChatRequest{}) {
					if err != nil {
						return err
					}
				}
				return nil
			},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()

			var statusErr *api.StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("error = %v, want *api.StatusError", err)
			}
			if statusErr.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", statusErr.Code, tt.wantCode)
			}
		})
	}
}

func TestClientTransportError(t *testing.T) {
	srv, _ := newBackend(t)
	client := api.New(srv.URL, nil, nil)
	srv.Close()

	_, err := client.History(context.Background(), "s1")
	if err == nil {
		t.Fatal("History() error = nil, want transport error")
	}
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		t.Errorf("History() error = %v, want a transport error", err)
	}
}

func TestClientChatBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: session\ndata: s9\n\n"))
		_, _ = w.Write([]byte("data: {\"content\":\"par\"}\n\n"))
		_, _ = w.Write([]byte("event: error\ndata: provider down\n\n"))
	}))
	defer srv.Close()

	client := api.New(srv.URL, nil, nil)

	var (
		events []api.ChatEvent
		gotErr error
	)
	req := models.ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "Hi"}}}
	for ev, err := range client.Chat(context.Background(), req) {
		if err != nil {
			gotErr = err
			break
		}
		events = append(events, ev)
	}

	if len(events) != 2 || events[0].SessionID != "s9" || events[1].Delta != "par" {
		t.Errorf("events = %+v, want session then one delta", events)
	}
	if gotErr == nil || !strings.Contains(gotErr.Error(), "provider down") {
		t.Errorf("error = %v, want backend error", gotErr)
	}
}

func TestClientChatInterrupted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"content\":\"par\"}\n\n"))
	}))
	defer srv.Close()

	client := api.New(srv.URL, nil, nil)

	var gotErr error
	req := models.ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "Hi"}}}
	for _, err := range client.Chat(context.Background(), req) {
		if err != nil {
			gotErr = err
		}
	}

	if !errors.Is(gotErr, api.ErrStreamInterrupted) {
		t.Errorf("error = %v, want %v", gotErr, api.ErrStreamInterrupted)
	}
}
