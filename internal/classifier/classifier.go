// Package classifier decides, for the supervisor, what happens next in a
// conversation: answer the user directly, delegate to a handler, or
// finish.
package classifier

import (
	"context"
	"errors"

	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/handler"
)

// ErrMalformed is returned when classifier output cannot be turned into
// a decision.
var ErrMalformed = errors.New("malformed classifier output")

// Kind tags a Decision.
type Kind int

const (
	// KindAnswer means the supervisor replies to the user itself.
	KindAnswer Kind = iota + 1
	// KindDelegate means a handler should act next.
	KindDelegate
	// KindFinish means the conversation is over with nothing to add.
	KindFinish
)

// String returns the stable name of k used in logs and audit records.
func (k Kind) String() string {
	switch k {
	case KindAnswer:
		return "answer"
	case KindDelegate:
		return "delegate"
	case KindFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Decision is the outcome of one classification. Text is set for
// KindAnswer and Target for KindDelegate.
type Decision struct {
	Kind   Kind   `json:"kind"`
	Text   string `json:"text,omitempty"`
	Target string `json:"target,omitempty"`
}

// Request is everything a classifier sees.
type Request struct {
	ConversationID string
	History        []conversation.Message
	Handlers       []handler.Descriptor
	Options        []string
}

// Classifier produces a routing decision.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Decision, error)
}

// Func adapts an ordinary function into a Classifier.
type Func func(ctx context.Context, req Request) (Decision, error)

// Classify implements Classifier.
func (f Func) Classify(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}
