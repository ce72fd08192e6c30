package widget

import "fmt"

// SessionKey is the storage key of the session token.
const SessionKey = "bf_session_id"

// SessionHolder keeps the token of the current chat session in a Storage. The token is opaque: it is
// neither validated nor expired, and at most one is held at a time.
type SessionHolder struct {
	storage Storage
}

// NewSessionHolder creates a SessionHolder backed by storage.
func NewSessionHolder(storage Storage) SessionHolder {
	return SessionHolder{storage: storage}
}

// Get returns the current token. ok is false when there is no session; an empty stored value counts as
// no session.
func (h SessionHolder) Get() (string, bool, error) {
	token, ok, err := h.storage.Get(SessionKey)
	if err != nil {
		return "", false, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok || token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Set replaces the current token.
func (h SessionHolder) Set(token string) error {
	if err := h.storage.Set(SessionKey, token); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Clear forgets the current token.
func (h SessionHolder) Clear() error {
	if err := h.storage.Delete(SessionKey); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
