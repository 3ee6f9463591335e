package chatclient

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryState tags a thread entry as optimistic or server-confirmed.
type EntryState int

const (
	Pending EntryState = iota
	Confirmed
)

func (s EntryState) String() string {
	if s == Confirmed {
		return "confirmed"
	}
	return "pending"
}

// Entry is one rendered message. Pending entries have no ID yet.
type Entry struct {
	State     EntryState
	ID        string
	TempID    string
	Text      string
	Sender    string
	CreatedAt time.Time
}

// Thread is the client-side view of one ticket conversation. Optimistic sends
// and their server echoes collapse to a single entry by correlation token.
type Thread struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewThread builds an empty thread.
func NewThread() *Thread {
	return &Thread{now: time.Now}
}

// Send appends a pending entry under a fresh correlation token and returns the token.
func (t *Thread) Send(text, sender string) string {
	token := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{
		State:     Pending,
		TempID:    token,
		Text:      text,
		Sender:    sender,
		CreatedAt: t.now(),
	})
	return token
}

// Apply merges a confirmed message. An entry with the same message ID, or a
// pending entry with the same correlation token, is replaced in place;
// otherwise the message is appended. It reports whether a new entry was added.
func (t *Thread) Apply(msg Message) bool {
	confirmed := Entry{
		State:     Confirmed,
		ID:        msg.ID,
		Text:      msg.Text,
		Sender:    msg.Sender,
		CreatedAt: msg.CreatedAt,
	}
	if msg.TempID != nil {
		confirmed.TempID = *msg.TempID
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, entry := range t.entries {
		if entry.ID != "" && entry.ID == msg.ID {
			t.entries[i] = confirmed
			return false
		}
		if confirmed.TempID != "" && entry.TempID == confirmed.TempID {
			t.entries[i] = confirmed
			return false
		}
	}
	t.entries = append(t.entries, confirmed)
	return true
}

// Fail drops a pending entry whose send was rejected.
func (t *Thread) Fail(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, entry := range t.entries {
		if entry.State == Pending && entry.TempID == tempID {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Reset replaces the thread with the store's view, as read after a reconnect.
// Pending entries survive so an in-flight send is not lost.
func (t *Thread) Reset(messages []Message) {
	t.mu.Lock()
	pending := make([]Entry, 0)
	for _, entry := range t.entries {
		if entry.State == Pending {
			pending = append(pending, entry)
		}
	}
	t.entries = nil
	t.mu.Unlock()

	for _, msg := range messages {
		t.Apply(msg)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range pending {
		if !t.hasToken(entry.TempID) {
			t.entries = append(t.entries, entry)
		}
	}
}

func (t *Thread) hasToken(token string) bool {
	for _, entry := range t.entries {
		if entry.TempID == token {
			return true
		}
	}
	return false
}

// Entries returns a copy of the thread in display order.
func (t *Thread) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of rendered entries.
func (t *Thread) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
