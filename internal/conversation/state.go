// Package conversation holds the per-conversation routing state that is
// threaded between the supervisor and the handlers. A State is a value:
// every mutation returns a new State and never touches the history
// backing array of the receiver, so a caller holding an older State can
// keep it for logging or audit without copying.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Reserved senders. Any other sender value is a handler id.
const (
	SenderUser       = "user"
	SenderSupervisor = "supervisor"
)

// Finish is the routing target that ends a conversation.
const Finish = "FINISH"

// Mode records how a conversation entered the system.
type Mode string

const (
	// ModeDirect is a live request/response conversation (chat API, CLI).
	ModeDirect Mode = "direct"
	// ModeAsync is a conversation seeded from a queued CRM event.
	ModeAsync Mode = "async"
)

// Message is a single history entry. Messages are never mutated after
// they are appended.
type Message struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// NewMessage stamps a message with the current time.
func NewMessage(sender, content string) Message {
	return Message{Sender: sender, Content: content, Timestamp: time.Now()}
}

// State is the routing state of one in-flight conversation.
type State struct {
	ID        string    `json:"id"`
	History   []Message `json:"history"`
	Next      string    `json:"next,omitempty"`
	Mode      Mode      `json:"mode"`
	EventKind string    `json:"event_kind,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// New starts a conversation with its first message. An empty id is
// replaced with a fresh time-ordered UUID.
func New(id string, mode Mode, first Message) State {
	if id == "" {
		id = newID()
	}
	return State{
		ID:        id,
		History:   []Message{first},
		Mode:      mode,
		StartedAt: time.Now(),
	}
}

// Append returns a copy of s with m appended to its history.
func (s State) Append(m Message) State {
	h := make([]Message, len(s.History), len(s.History)+1)
	copy(h, s.History)
	s.History = append(h, m)
	return s
}

// WithNext returns a copy of s routed to next.
func (s State) WithNext(next string) State {
	s.Next = next
	return s
}

// Window returns at most the n most recent messages. n <= 0 returns the
// whole history. The returned slice is a copy.
func (s State) Window(n int) []Message {
	start := 0
	if n > 0 && len(s.History) > n {
		start = len(s.History) - n
	}
	out := make([]Message, len(s.History)-start)
	copy(out, s.History[start:])
	return out
}

// Last returns the most recent message.
func (s State) Last() (Message, bool) {
	if len(s.History) == 0 {
		return Message{}, false
	}
	return s.History[len(s.History)-1], true
}

// Finished reports whether the conversation has been routed to FINISH.
func (s State) Finished() bool {
	return s.Next == Finish
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
