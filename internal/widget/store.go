package widget

import (
	"slices"
	"sync"

	"github.com/MegaGrindStone/bfchat/internal/models"
)

// ChangeKind identifies a MessageStore mutation.
type ChangeKind int

const (
	// ChangeAppend reports a message appended at the end.
	ChangeAppend ChangeKind = iota
	// ChangeClear reports that every message was removed.
	ChangeClear
	// ChangeReplace reports that the whole sequence was replaced, for example by loaded history.
	ChangeReplace
)

// Change describes a mutation of a MessageStore. Message is set for ChangeAppend; Messages holds the new
// sequence for ChangeReplace.
type Change struct {
	Kind     ChangeKind
	Message  models.Message
	Messages []models.Message
}

// MessageStore is the ordered list of messages the widget displays. Order is append order. Messages are
// stored as given, without validation.
type MessageStore struct {
	// deliverMu is held from a mutation until its subscribers return, so every subscriber sees changes in
	// the order they were applied.
	deliverMu sync.Mutex

	mu       sync.RWMutex
	messages []models.Message
	limit    int

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Change)
}

// StoreOption configures a MessageStore.
type StoreOption func(*MessageStore)

// WithLimit keeps only the newest n messages. n <= 0 means unbounded, which is the default.
func WithLimit(n int) StoreOption {
	return func(s *MessageStore) {
		s.limit = n
	}
}

// NewMessageStore creates an empty MessageStore.
func NewMessageStore(opts ...StoreOption) *MessageStore {
	s := &MessageStore{subs: map[int]func(Change){}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddMessage appends msg.
func (s *MessageStore) AddMessage(msg models.Message) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	if s.limit > 0 && len(s.messages) > s.limit {
		s.messages = slices.Clone(s.messages[len(s.messages)-s.limit:])
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAppend, Message: msg})
}

// ClearMessages removes every message.
func (s *MessageStore) ClearMessages() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeClear})
}

// Replace clears the store and appends msgs in order, in one step: no reader observes the empty store in
// between.
func (s *MessageStore) Replace(msgs []models.Message) {
	msgs = slices.Clone(msgs)
	if s.limit > 0 && len(msgs) > s.limit {
		msgs = msgs[len(msgs)-s.limit:]
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.messages = msgs
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReplace, Messages: slices.Clone(msgs)})
}

// Messages returns a copy of the current sequence.
func (s *MessageStore) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Len returns the number of messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Subscribe registers fn to be called after every mutation, and returns a function that removes it.
// Subscribers are called synchronously by the goroutine that mutated the store, one change at a time and
// in mutation order. A subscriber may read the store but must not mutate it.
func (s *MessageStore) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *MessageStore) notify(c Change) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
