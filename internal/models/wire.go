package models

// ChatRequest is the body of a chat turn. Messages is the conversation as the widget shows it; its last
// element is the new user message.
type ChatRequest struct {
	SessionID string    `json:"session_id,omitempty"`
	Messages  []Message `json:"messages"`
}

// ChatDelta is the data of a chat stream event carrying a piece of the assistant reply.
type ChatDelta struct {
	Content string `json:"content"`
}

// UploadResponse is the body of a successful upload.
type UploadResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Filename  string `json:"filename"`
	Status    string `json:"status,omitempty"`
}

// Chat stream event types. Deltas use the default event type; the stream ends with a default event whose
// data is StreamDone.
const (
	EventSession = "session"
	EventError   = "error"
	StreamDone   = "[DONE]"
)

// SessionHeader carries the session ID of a chat turn on the stream response.
const SessionHeader = "X-Session-ID"
