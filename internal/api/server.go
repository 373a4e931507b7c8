// Package api implements the switchboard HTTP API: direct chat, CRM
// event ingestion, router introspection and the conversation audit.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/switchboard/internal/agent"
	"github.com/nugget/switchboard/internal/audit"
	"github.com/nugget/switchboard/internal/buildinfo"
	"github.com/nugget/switchboard/internal/connwatch"
	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/dispatch"
	"github.com/nugget/switchboard/internal/events"
	"github.com/nugget/switchboard/internal/router"
)

// maxBodyBytes bounds request bodies on the POST endpoints.
const maxBodyBytes = 1 << 20

// Runner runs one conversation to FINISH.
type Runner interface {
	Run(ctx context.Context, st conversation.State) (agent.Result, error)
}

// RouterView exposes the supervisor's in-memory decision log.
type RouterView interface {
	GetAuditLog(limit int) []router.Decision
	GetStats() router.Stats
	Explain(conversationID string) []router.Decision
}

// Dispatcher runs CRM events through their bindings.
type Dispatcher interface {
	Dispatch(ctx context.Context, e dispatch.Event) error
}

// ConversationStore looks up finished conversations.
type ConversationStore interface {
	Get(ctx context.Context, conversationID string) (*audit.Entry, error)
	List(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address    string
	port       int
	loop       Runner
	router     RouterView
	dispatcher Dispatcher
	store      ConversationStore
	bus        *events.Bus
	watch      *connwatch.Manager
	logger     *slog.Logger
	server     *http.Server
}

// NewServer creates an API server. Optional collaborators are attached
// with the Set methods; endpoints that need a missing one answer 503.
func NewServer(address string, port int, loop Runner, rtr RouterView, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		loop:    loop,
		router:  rtr,
		logger:  logger,
	}
}

// SetDispatcher enables POST /v1/events.
func (s *Server) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// SetConversationStore enables the /v1/conversations endpoints.
func (s *Server) SetConversationStore(cs ConversationStore) {
	s.store = cs
}

// SetEventBus enables the /v1/events/ws stream.
func (s *Server) SetEventBus(b *events.Bus) {
	s.bus = b
}

// SetConnWatcher adds backend health to GET /health.
func (s *Server) SetConnWatcher(m *connwatch.Manager) {
	s.watch = m
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	// Conversations
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)

	// CRM events
	mux.HandleFunc("POST /v1/events", s.handleEvent)
	mux.HandleFunc("GET /v1/events/ws", s.handleEventStream)

	// Router introspection
	mux.HandleFunc("GET /v1/router/stats", s.handleRouterStats)
	mux.HandleFunc("GET /v1/router/audit", s.handleRouterAudit)
	mux.HandleFunc("GET /v1/router/explain/{id}", s.handleRouterExplain)

	return s.withLogging(mux)
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A DIRECT conversation can take several LLM round trips.
		WriteTimeout: 5 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if r.URL.Path == "/health" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

// errorResponse writes the JSON error envelope.
func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                    `json:"status"` // healthy or degraded
	Version  string                    `json:"version"`
	Uptime   string                    `json:"uptime"`
	Services []connwatch.ServiceStatus `json:"services,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: buildinfo.Version,
		Uptime:  buildinfo.Uptime().String(),
	}
	if s.watch != nil {
		resp.Services = s.watch.Status()
		if !s.watch.Healthy() {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, resp, s.logger)
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the outcome of one DIRECT conversation.
type ChatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	Reason         string `json:"reason"`
	Next           string `json:"next"`
	Steps          int    `json:"steps"`
}

// handleChat runs a DIRECT conversation.
// POST /v1/chat {"message": "what is the state of ticket 42?"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.loop == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation loop not configured")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	st := conversation.New(req.ConversationID, conversation.ModeDirect,
		conversation.NewMessage(conversation.SenderUser, req.Message))

	res, err := s.loop.Run(r.Context(), st)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.logger.Debug("chat request cancelled", "conversation_id", st.ID)
			return
		}
		s.logger.Error("conversation failed", "conversation_id", st.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "conversation error: "+err.Error())
		return
	}

	writeJSON(w, ChatResponse{
		ConversationID: res.State.ID,
		Reply:          res.Reply,
		Reason:         string(res.Reason),
		Next:           res.State.Next,
		Steps:          res.Steps,
	}, s.logger)
}

// EventResponse acknowledges an ingested CRM event.
type EventResponse struct {
	EventType string `json:"event_type"`
	Status    string `json:"status"` // dispatched or unhandled
	Error     string `json:"error,omitempty"`
}

// handleEvent ingests one CRM event envelope.
// POST /v1/events {"event_type": "ticket create", "payload": {...}}
//
// Malformed bodies are rejected before any binding runs. Unknown kinds
// are accepted (202) and only reach the fallback. Binding failures are
// reported in the body but do not fail the request: the remaining
// bindings still ran.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "dispatcher not configured")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	ev, err := dispatch.DecodeEnvelope(raw)
	if err != nil {
		s.logger.Warn("rejected malformed event", "error", err)
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.dispatcher.Dispatch(r.Context(), ev)
	switch {
	case errors.Is(err, dispatch.ErrUnknownKind):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, EventResponse{EventType: string(ev.Kind), Status: "unhandled"}, s.logger)
	case err != nil:
		writeJSON(w, EventResponse{EventType: string(ev.Kind), Status: "dispatched", Error: err.Error()}, s.logger)
	default:
		writeJSON(w, EventResponse{EventType: string(ev.Kind), Status: "dispatched"}, s.logger)
	}
}

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	writeJSON(w, s.router.GetStats(), s.logger)
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}

	decisions := s.router.GetAuditLog(queryLimit(r, 20))
	writeJSON(w, map[string]any{
		"count":     len(decisions),
		"decisions": decisions,
	}, s.logger)
}

// handleRouterExplain returns every routing decision for a conversation.
func (s *Server) handleRouterExplain(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}

	id := r.PathValue("id")
	decisions := s.router.Explain(id)
	if len(decisions) == 0 {
		s.errorResponse(w, http.StatusNotFound, "no decisions for conversation")
		return
	}
	writeJSON(w, map[string]any{
		"conversation_id": id,
		"decisions":       decisions,
	}, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}

	q := r.URL.Query()
	entries, err := s.store.List(r.Context(), audit.Filter{
		Reason: q.Get("reason"),
		Mode:   conversation.Mode(q.Get("mode")),
		Limit:  queryLimit(r, 0),
	})
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "list conversations failed")
		return
	}

	// Summaries only; the full history is behind /v1/conversations/{id}.
	type summary struct {
		ConversationID string    `json:"conversation_id"`
		Mode           string    `json:"mode"`
		EventKind      string    `json:"event_kind,omitempty"`
		Reason         string    `json:"reason"`
		Steps          int       `json:"steps"`
		Messages       int       `json:"messages"`
		FinishedAt     time.Time `json:"finished_at"`
	}
	out := make([]summary, len(entries))
	for i, e := range entries {
		out[i] = summary{
			ConversationID: e.ConversationID,
			Mode:           string(e.Mode),
			EventKind:      e.EventKind,
			Reason:         e.Reason,
			Steps:          e.Steps,
			Messages:       len(e.History),
			FinishedAt:     e.FinishedAt,
		}
	}
	writeJSON(w, map[string]any{
		"count":         len(out),
		"conversations": out,
	}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}

	e, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, audit.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("get conversation failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "get conversation failed")
		return
	}
	writeJSON(w, e, s.logger)
}

// queryLimit parses ?limit=, returning def when absent or invalid.
func queryLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return def
}
