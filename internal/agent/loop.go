// Package agent implements the conversation loop: it alternates the
// supervisor and the handlers it selects until the conversation reaches
// FINISH, then records the outcome.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/switchboard/internal/audit"
	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/events"
	"github.com/nugget/switchboard/internal/handler"
	"github.com/nugget/switchboard/internal/router"
	"github.com/nugget/switchboard/internal/termination"
)

// DefaultMaxSteps caps the router steps of one conversation.
const DefaultMaxSteps = 25

// ErrEmptyConversation is returned by Run for a state with no history.
var ErrEmptyConversation = errors.New("conversation has no messages")

// Recorder persists finished conversations.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Result is the outcome of one conversation run.
type Result struct {
	State  conversation.State `json:"state"`
	Reason termination.Reason `json:"reason"`
	Steps  int                `json:"steps"`
	// Reply is the content of the last supervisor or handler message.
	Reply string `json:"reply"`
}

// Config tunes the loop.
type Config struct {
	MaxSteps int
	Apology  string // Appended when MaxSteps is reached
}

// Loop drives conversations. It keeps no per-conversation state; any
// number of Run calls may execute concurrently.
type Loop struct {
	logger   *slog.Logger
	router   *router.Router
	registry *handler.Registry
	recorder Recorder
	bus      *events.Bus
	config   Config
}

// NewLoop creates a conversation loop. recorder and bus may be nil.
func NewLoop(logger *slog.Logger, config Config, r *router.Router, recorder Recorder, bus *events.Bus) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxSteps <= 0 {
		config.MaxSteps = DefaultMaxSteps
	}
	if config.Apology == "" {
		config.Apology = router.DefaultApology
	}
	return &Loop{
		logger:   logger,
		router:   r,
		registry: r.Registry(),
		recorder: recorder,
		bus:      bus,
		config:   config,
	}
}

// Run takes st to FINISH. When st.Next names a registered handler the
// conversation is pinned to it and that handler runs before the first
// routing step. The only error returns are an empty history and context
// cancellation; every other outcome is a finished Result.
func (l *Loop) Run(ctx context.Context, st conversation.State) (Result, error) {
	if len(st.History) == 0 {
		return Result{State: st}, ErrEmptyConversation
	}
	if st.StartedAt.IsZero() {
		st.StartedAt = time.Now()
	}

	m := termination.NewMachine()
	l.logger.Info("conversation started",
		"conversation_id", st.ID,
		"mode", st.Mode,
		"event_kind", st.EventKind,
		"pinned", st.Next,
	)
	l.bus.Emit(events.SourceAgent, events.KindConversationStart, map[string]any{
		"conversation_id": st.ID,
		"mode":            string(st.Mode),
		"event_kind":      st.EventKind,
	})

	if st.Next != "" && !st.Finished() {
		if h, ok := l.registry.Lookup(handler.ID(st.Next)); ok {
			l.advance(st.ID, m.Pinned())
			st = l.handle(ctx, h, st)
			l.advance(st.ID, m.Handled())
		} else {
			l.logger.Warn("pinned handler not registered, routing instead",
				"conversation_id", st.ID,
				"handler", st.Next,
			)
			st = st.WithNext("")
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return Result{State: st, Steps: m.Steps(), Reply: lastReply(st)},
				fmt.Errorf("conversation %s: %w", st.ID, err)
		}

		if m.Steps() >= l.config.MaxSteps {
			l.logger.Warn("conversation hit step limit",
				"conversation_id", st.ID,
				"max_steps", l.config.MaxSteps,
			)
			st = st.Append(conversation.NewMessage(conversation.SenderSupervisor, l.config.Apology)).
				WithNext(conversation.Finish)
			l.advance(st.ID, m.Finish(termination.ReasonLoopExhausted))
			break
		}

		var d router.Decision
		st, d = l.router.Step(ctx, st)
		if d.Finished() {
			l.advance(st.ID, m.Finish(d.Reason))
			break
		}

		h, ok := l.registry.Lookup(handler.ID(st.Next))
		if !ok {
			// Step never routes to an unregistered id; finish rather
			// than loop if that ever changes.
			l.logger.Error("router selected unregistered handler",
				"conversation_id", st.ID,
				"handler", st.Next,
			)
			st = st.Append(conversation.NewMessage(conversation.SenderSupervisor, router.DefaultInvalidTarget)).
				WithNext(conversation.Finish)
			l.advance(st.ID, m.Finish(termination.ReasonInvalidTarget))
			break
		}
		l.advance(st.ID, m.Routed())
		st = l.handle(ctx, h, st)
		l.advance(st.ID, m.Handled())
	}

	res := Result{
		State:  st,
		Reason: m.Reason(),
		Steps:  m.Steps(),
		Reply:  lastReply(st),
	}
	l.finished(ctx, res)
	return res, nil
}

func (l *Loop) handle(ctx context.Context, h handler.Handler, st conversation.State) conversation.State {
	start := time.Now()
	out := handler.Guard(h, l.logger).Handle(ctx, st)

	id := h.Descriptor().ID
	declined := false
	if last, ok := out.Last(); ok {
		declined = l.registry.Declined(last)
	}
	l.logger.Debug("handler done",
		"conversation_id", st.ID,
		"handler", id,
		"declined", declined,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	l.bus.Emit(events.SourceAgent, events.KindHandlerDone, map[string]any{
		"conversation_id": st.ID,
		"handler":         string(id),
		"declined":        declined,
	})
	return out
}

// advance logs a phase machine violation. The loop only makes legal
// transitions, so this never fires unless the loop itself is broken.
func (l *Loop) advance(convID string, err error) {
	if err != nil {
		l.logger.Error("conversation phase violation", "conversation_id", convID, "error", err)
	}
}

func (l *Loop) finished(ctx context.Context, res Result) {
	st := res.State
	l.logger.Info("conversation finished",
		"conversation_id", st.ID,
		"reason", res.Reason,
		"steps", res.Steps,
		"messages", len(st.History),
	)
	l.bus.Emit(events.SourceAgent, events.KindConversationFinished, map[string]any{
		"conversation_id": st.ID,
		"mode":            string(st.Mode),
		"event_kind":      st.EventKind,
		"reason":          string(res.Reason),
		"steps":           res.Steps,
		"reply":           res.Reply,
	})

	if l.recorder == nil {
		return
	}
	err := l.recorder.Record(context.WithoutCancel(ctx), audit.Entry{
		ConversationID: st.ID,
		Mode:           st.Mode,
		EventKind:      st.EventKind,
		Reason:         string(res.Reason),
		Steps:          res.Steps,
		History:        st.History,
		StartedAt:      st.StartedAt,
		FinishedAt:     time.Now(),
	})
	if err != nil {
		l.logger.Error("failed to record conversation",
			"conversation_id", st.ID,
			"error", err,
		)
	}
}

func lastReply(st conversation.State) string {
	for i := len(st.History) - 1; i >= 0; i-- {
		if m := st.History[i]; m.Sender != conversation.SenderUser {
			return m.Content
		}
	}
	return ""
}
