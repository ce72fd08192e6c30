package models

import (
	"fmt"
	"strings"
	"time"
)

// Message represents an individual entry of a chat transcript. It is the unit the widget displays, the
// backend persists and the history endpoint returns, so its JSON form is exactly {"role", "content"}.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the language model.
	RoleAssistant Role = "assistant"
	// RoleSystem represents a UI-only notice, such as the result of an upload. System messages are also used
	// to carry uploaded file context to the language model, but those are never shown in the transcript.
	RoleSystem Role = "system"
)

// FileNoticePrefix marks the system notices the backend records for uploaded files. Clearing the file context
// of a session removes every system notice starting with this prefix.
const FileNoticePrefix = "📎"

// HistoryEntry is a persisted Message of a session.
type HistoryEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Message   Message   `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// FileContext is the text extracted from an uploaded file, possibly summarised, that is handed to the
// language model with every chat turn of the session.
type FileContext struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Validate checks that the message role is known.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	return nil
}

// IsFileNotice reports whether m is a system notice about an uploaded file.
func (m Message) IsFileNotice() bool {
	return m.Role == RoleSystem && strings.HasPrefix(m.Content, FileNoticePrefix)
}
