// Package correlation keeps a client's view of a workspace transcript and
// reconciles optimistic local entries with canonical fan-out events.
package correlation

import (
	"errors"
	"sync"

	"gopherai-cochat/internal/model"
)

var ErrDuplicateTempID = errors.New("temp id already pending")

// Key identifies an entry either by the originator's temp id while it is
// pending, or by the server id once confirmed. Exactly one form is used.
type Key struct {
	Pending bool
	ID      string
}

func PendingKey(tempID string) Key { return Key{Pending: true, ID: tempID} }

func ConfirmedKey(id string) Key { return Key{ID: id} }

// Entry is one transcript line. AuthorName is only known for messages seen
// through a created event in this session; a reload leaves it empty.
type Entry struct {
	Key        Key
	Message    model.Message
	AuthorName string
}

type Outcome int

const (
	Ignored Outcome = iota
	Appended
	Replaced
	Duplicate
	Updated
	Removed
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	case Duplicate:
		return "duplicate"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return "ignored"
	}
}

// Transcript is an ordered list of entries with a positional index. It is
// safe for concurrent use.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	index   map[Key]int
}

func NewTranscript() *Transcript {
	return &Transcript{index: make(map[Key]int)}
}

// AddPending appends an optimistic entry for a message the caller is
// about to send or stream.
func (t *Transcript) AddPending(tempID string, message model.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := PendingKey(tempID)
	if _, ok := t.index[key]; ok {
		return ErrDuplicateTempID
	}
	t.index[key] = len(t.entries)
	t.entries = append(t.entries, Entry{Key: key, Message: message})
	return nil
}

// AppendContent extends a pending entry's content, used while a completion
// streams into its placeholder.
func (t *Transcript) AppendContent(tempID, fragment string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[PendingKey(tempID)]
	if !ok {
		return false
	}
	t.entries[i].Message.Content += fragment
	return true
}

// Apply reconciles one fan-out event. A created event whose temp id is
// pending replaces that entry at its position; one whose id is already
// confirmed is a duplicate; anything else is appended.
func (t *Transcript) Apply(event model.Event) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Type {
	case model.EventMessageCreated:
		if event.Message == nil {
			return Ignored
		}
		return t.applyCreated(event.TempID, event.AuthorName, *event.Message)
	case model.EventMessageUpdated:
		if event.Message == nil {
			return Ignored
		}
		i, ok := t.index[ConfirmedKey(event.Message.ID)]
		if !ok {
			return Ignored
		}
		t.entries[i].Message = *event.Message
		return Updated
	case model.EventMessageDeleted:
		if t.removeLocked(ConfirmedKey(event.CanonicalID())) {
			return Removed
		}
		return Ignored
	default:
		return Ignored
	}
}

func (t *Transcript) applyCreated(tempID, authorName string, message model.Message) Outcome {
	confirmed := ConfirmedKey(message.ID)
	if tempID != "" {
		pending := PendingKey(tempID)
		if i, ok := t.index[pending]; ok {
			if _, dup := t.index[confirmed]; dup {
				t.removeLocked(pending)
				return Duplicate
			}
			delete(t.index, pending)
			if authorName == "" {
				authorName = t.entries[i].AuthorName
			}
			t.entries[i] = Entry{Key: confirmed, Message: message, AuthorName: authorName}
			t.index[confirmed] = i
			return Replaced
		}
	}
	if _, ok := t.index[confirmed]; ok {
		return Duplicate
	}
	t.index[confirmed] = len(t.entries)
	t.entries = append(t.entries, Entry{Key: confirmed, Message: message, AuthorName: authorName})
	return Appended
}

// Drop removes an unresolved pending entry.
func (t *Transcript) Drop(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(PendingKey(tempID))
}

// DropPending removes every unresolved entry and returns how many there were.
func (t *Transcript) DropPending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.entries[:0]
	dropped := 0
	for _, e := range t.entries {
		if e.Key.Pending {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	t.reindexLocked()
	return dropped
}

// Reset replaces the whole transcript with canonical messages, as after a
// full reload.
func (t *Transcript) Reset(messages []model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make([]Entry, 0, len(messages))
	for _, m := range messages {
		t.entries = append(t.entries, Entry{Key: ConfirmedKey(m.ID), Message: m})
	}
	t.reindexLocked()
}

func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Transcript) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries {
		if e.Key.Pending {
			n++
		}
	}
	return n
}

func (t *Transcript) removeLocked(key Key) bool {
	i, ok := t.index[key]
	if !ok {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	t.reindexLocked()
	return true
}

func (t *Transcript) reindexLocked() {
	t.index = make(map[Key]int, len(t.entries))
	for i, e := range t.entries {
		t.index[e.Key] = i
	}
}
