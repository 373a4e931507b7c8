package handler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/prompts"
)

type guarded struct {
	inner  Handler
	logger *slog.Logger
}

// Guard wraps h so the handler contract holds no matter what h does.
// A panic is recovered, and the result always equals the input state
// plus exactly one message authored by h. If h appended nothing usable
// the fallback reply is appended on its behalf.
func Guard(h Handler, logger *slog.Logger) Handler {
	if g, ok := h.(*guarded); ok {
		return g
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &guarded{inner: h, logger: logger}
}

func (g *guarded) Descriptor() Descriptor { return g.inner.Descriptor() }

func (g *guarded) Handle(ctx context.Context, in conversation.State) (out conversation.State) {
	id := string(g.inner.Descriptor().ID)

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("handler panicked",
				"handler", id,
				"conversation_id", in.ID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			out = in.Append(conversation.NewMessage(id, prompts.HandlerFallback))
		}
	}()

	res := g.inner.Handle(ctx, in)

	if reply, ok := ownReply(in, res, id); ok {
		return in.Append(reply)
	}

	g.logger.Warn("handler appended no reply of its own",
		"handler", id,
		"conversation_id", in.ID,
		"appended", len(res.History)-len(in.History),
	)
	return in.Append(conversation.NewMessage(id, prompts.HandlerFallback))
}

// ownReply finds the last non-empty message authored by id that the
// handler added beyond the input history.
func ownReply(in, res conversation.State, id string) (conversation.Message, bool) {
	if len(res.History) <= len(in.History) {
		return conversation.Message{}, false
	}
	added := res.History[len(in.History):]
	for i := len(added) - 1; i >= 0; i-- {
		m := added[i]
		if m.Sender == id && strings.TrimSpace(m.Content) != "" {
			if m.Timestamp.IsZero() {
				m = conversation.NewMessage(m.Sender, m.Content)
			}
			return m, true
		}
	}
	return conversation.Message{}, false
}
