// Package router implements the conversation supervisor: one routing
// step decides whether a conversation finishes, gets a direct answer, or
// goes to a specialized handler.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/switchboard/internal/classifier"
	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/events"
	"github.com/nugget/switchboard/internal/handler"
	"github.com/nugget/switchboard/internal/termination"
)

// Default supervisor texts.
const (
	DefaultApology       = "I'm sorry, but your request is outside the scope of our available services. We can help with sales, customer support and technical support, but none of our teams can assist with this request."
	DefaultMisunderstood = "Sorry, I couldn't understand the request."
	DefaultInvalidTarget = "Sorry, I couldn't find the right team for this request."
)

const (
	defaultHistoryWindow = 5
	defaultMaxAuditLog   = 1000
)

// Decision step kinds that never reach the classifier.
const (
	StepLoopCheck = "loop_check"
	StepHandoff   = "handoff"
	StepEmpty     = "empty"
)

// Config tunes the supervisor.
type Config struct {
	HistoryWindow int    // Messages shown to the classifier
	MaxAuditLog   int    // How many decisions to keep in memory
	Apology       string // Appended when every handler declined
	Misunderstood string // Appended when the classifier output is unusable
	InvalidTarget string // Appended when the classifier names an unknown handler
}

// Decision records one routing step and why it went the way it did.
type Decision struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`

	// Input analysis
	HistoryLen int  `json:"history_len"`
	WindowLen  int  `json:"window_len"`
	Tally      int  `json:"tally"`
	Handlers   int  `json:"handlers"`
	Handoff    bool `json:"handoff,omitempty"`

	// Outcome
	Kind   string             `json:"kind"`
	Target string             `json:"target,omitempty"`
	Next   string             `json:"next"`
	Reason termination.Reason `json:"reason,omitempty"`
	Answer string             `json:"answer,omitempty"`
	Error  string             `json:"error,omitempty"`

	LatencyMs int64 `json:"latency_ms"`
}

// Finished reports whether the step ended the conversation.
func (d Decision) Finished() bool {
	return d.Next == conversation.Finish
}

// Stats tracks routing statistics.
type Stats struct {
	TotalDecisions int64            `json:"total_decisions"`
	Handoffs       int64            `json:"handoffs"`
	ReasonCounts   map[string]int64 `json:"reason_counts"`
	TargetCounts   map[string]int64 `json:"target_counts"`
	KindCounts     map[string]int64 `json:"kind_counts"`
}

// Router is the supervisor. It holds no per-conversation state, so one
// Router serves any number of concurrent conversations.
type Router struct {
	logger     *slog.Logger
	config     Config
	registry   *handler.Registry
	classifier classifier.Classifier
	bus        *events.Bus

	mu       sync.RWMutex
	auditLog []Decision
	stats    Stats
}

// NewRouter creates a supervisor over registry. bus may be nil.
func NewRouter(logger *slog.Logger, config Config, registry *handler.Registry, c classifier.Classifier, bus *events.Bus) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = defaultHistoryWindow
	}
	if config.MaxAuditLog <= 0 {
		config.MaxAuditLog = defaultMaxAuditLog
	}
	if config.Apology == "" {
		config.Apology = DefaultApology
	}
	if config.Misunderstood == "" {
		config.Misunderstood = DefaultMisunderstood
	}
	if config.InvalidTarget == "" {
		config.InvalidTarget = DefaultInvalidTarget
	}
	return &Router{
		logger:     logger,
		config:     config,
		registry:   registry,
		classifier: c,
		bus:        bus,
		auditLog:   make([]Decision, 0, min(config.MaxAuditLog, 64)),
		stats:      newStats(),
	}
}

func newStats() Stats {
	return Stats{
		ReasonCounts: make(map[string]int64),
		TargetCounts: make(map[string]int64),
		KindCounts:   make(map[string]int64),
	}
}

// Registry returns the handler registry the router routes over.
func (r *Router) Registry() *handler.Registry {
	return r.registry
}

// Step performs one supervisor turn. The returned state has Next set to
// a registered handler id or FINISH; when it is FINISH and the
// conversation ended in failure, a supervisor message explaining why has
// been appended.
func (r *Router) Step(ctx context.Context, st conversation.State) (conversation.State, Decision) {
	d := Decision{
		ID:             newDecisionID(),
		ConversationID: st.ID,
		Timestamp:      time.Now(),
		HistoryLen:     len(st.History),
		Handlers:       r.registry.Len(),
	}

	out := r.step(ctx, st, &d)
	d.Next = out.Next
	d.LatencyMs = time.Since(d.Timestamp).Milliseconds()

	r.recordDecision(d)
	r.bus.Emit(events.SourceRouter, events.KindRouteDecision, map[string]any{
		"conversation_id": d.ConversationID,
		"tally":           d.Tally,
		"kind":            d.Kind,
		"target":          d.Target,
		"next":            d.Next,
		"reason":          string(d.Reason),
		"handoff":         d.Handoff,
	})
	r.logger.Info("route decision",
		"conversation_id", d.ConversationID,
		"tally", d.Tally,
		"kind", d.Kind,
		"target", d.Target,
		"next", d.Next,
		"reason", d.Reason,
	)
	return out, d
}

func (r *Router) step(ctx context.Context, st conversation.State, d *Decision) conversation.State {
	if len(st.History) == 0 {
		d.Kind = StepEmpty
		return r.finish(st, d, termination.ReasonMalformedClassifier, r.config.Misunderstood)
	}

	// Every handler has declined once: stop before the classifier can
	// send the conversation round again.
	d.Tally = termination.Tally(r.registry, st.History)
	if d.Tally >= r.registry.Len() {
		d.Kind = StepLoopCheck
		return r.finish(st, d, termination.ReasonLoopExhausted, r.config.Apology)
	}

	if target, ok := r.handoffTarget(st); ok {
		d.Kind = StepHandoff
		d.Handoff = true
		d.Target = target
		return st.WithNext(target)
	}

	window := st.Window(r.config.HistoryWindow)
	d.WindowLen = len(window)

	cd, err := r.classify(ctx, classifier.Request{
		ConversationID: st.ID,
		History:        window,
		Handlers:       r.registry.Descriptors(),
		Options:        r.registry.Options(),
	})
	if err != nil {
		d.Kind = "malformed"
		d.Error = err.Error()
		r.logger.Warn("classifier failed",
			"conversation_id", st.ID,
			"error", err,
		)
		return r.finish(st, d, termination.ReasonMalformedClassifier, r.config.Misunderstood)
	}

	d.Kind = cd.Kind.String()
	switch cd.Kind {
	case classifier.KindAnswer:
		if text := strings.TrimSpace(cd.Text); text != "" {
			d.Answer = text
			return r.finish(st, d, termination.ReasonAnswer, text)
		}
		d.Error = "empty answer"
		return r.finish(st, d, termination.ReasonMalformedClassifier, r.config.Misunderstood)

	case classifier.KindDelegate:
		d.Target = cd.Target
		if cd.Target != conversation.Finish && r.registry.Has(handler.ID(cd.Target)) {
			return st.WithNext(cd.Target)
		}
		r.logger.Warn("classifier chose unregistered handler",
			"conversation_id", st.ID,
			"target", cd.Target,
		)
		return r.finish(st, d, termination.ReasonInvalidTarget, r.config.InvalidTarget)

	case classifier.KindFinish:
		return r.finish(st, d, termination.ReasonFinish, "")

	default:
		d.Error = fmt.Sprintf("unknown decision kind %d", cd.Kind)
		return r.finish(st, d, termination.ReasonMalformedClassifier, r.config.Misunderstood)
	}
}

// classify calls the classifier, turning a panic into an error.
func (r *Router) classify(ctx context.Context, req classifier.Request) (d classifier.Decision, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: classifier panicked: %v", classifier.ErrMalformed, p)
		}
	}()
	return r.classifier.Classify(ctx, req)
}

// handoffTarget returns the peer named by a handoff marker in the last
// message, when that message came from a registered handler and the
// peer is registered too.
func (r *Router) handoffTarget(st conversation.State) (string, bool) {
	last, ok := st.Last()
	if !ok || !r.registry.Has(handler.ID(last.Sender)) {
		return "", false
	}
	target, ok := conversation.ParseHandoff(last.Content)
	if !ok {
		return "", false
	}
	if !r.registry.Has(handler.ID(target)) {
		r.logger.Warn("handoff to unregistered handler ignored",
			"conversation_id", st.ID,
			"from", last.Sender,
			"target", target,
		)
		return "", false
	}
	return target, true
}

func (r *Router) finish(st conversation.State, d *Decision, reason termination.Reason, say string) conversation.State {
	d.Reason = reason
	if say != "" {
		st = st.Append(conversation.NewMessage(conversation.SenderSupervisor, say))
	}
	return st.WithNext(conversation.Finish)
}

// recordDecision adds a decision to the audit log.
func (r *Router) recordDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Trim if over capacity
	if len(r.auditLog) >= r.config.MaxAuditLog {
		r.auditLog = r.auditLog[1:]
	}
	r.auditLog = append(r.auditLog, d)

	r.stats.TotalDecisions++
	r.stats.KindCounts[d.Kind]++
	if d.Reason != "" {
		r.stats.ReasonCounts[string(d.Reason)]++
	}
	if d.Target != "" {
		r.stats.TargetCounts[d.Target]++
	}
	if d.Handoff {
		r.stats.Handoffs++
	}
}

// GetAuditLog returns recent routing decisions, oldest first.
func (r *Router) GetAuditLog(limit int) []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.auditLog) {
		limit = len(r.auditLog)
	}

	// Return most recent
	start := len(r.auditLog) - limit
	result := make([]Decision, limit)
	copy(result, r.auditLog[start:])
	return result
}

// GetStats returns a snapshot of routing statistics.
func (r *Router) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := newStats()
	s.TotalDecisions = r.stats.TotalDecisions
	s.Handoffs = r.stats.Handoffs
	for k, v := range r.stats.ReasonCounts {
		s.ReasonCounts[k] = v
	}
	for k, v := range r.stats.TargetCounts {
		s.TargetCounts[k] = v
	}
	for k, v := range r.stats.KindCounts {
		s.KindCounts[k] = v
	}
	return s
}

// Explain returns every retained decision for one conversation, in the
// order they were made.
func (r *Router) Explain(conversationID string) []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Decision
	for _, d := range r.auditLog {
		if d.ConversationID == conversationID {
			out = append(out, d)
		}
	}
	return out
}

func newDecisionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return time.Now().Format("20060102-150405.000000")
	}
	return id.String()
}
