package handler

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/llm"
	"github.com/nugget/switchboard/internal/prompts"
	"github.com/nugget/switchboard/internal/tools"
)

// HandoffTool is the name of the tool an agent calls to pass the
// conversation to a peer handler.
const HandoffTool = "handoff"

const (
	defaultMaxIter     = 6
	defaultToolTimeout = 30 * time.Second
)

// AgentConfig configures an LLM-backed handler.
type AgentConfig struct {
	Descriptor Descriptor

	// Prompt is the role prompt. The decline and handoff instructions
	// are appended automatically.
	Prompt string

	Model string

	// Tools is the registry this agent may call. Nil means no tools.
	Tools *tools.Registry

	// Peers are the handlers this agent may hand a conversation to.
	Peers []Descriptor

	// MaxIter bounds tool-calling rounds per turn.
	MaxIter int

	// ToolTimeout bounds a single tool call.
	ToolTimeout time.Duration
}

// Agent is a handler that answers with an LLM and its tools.
type Agent struct {
	desc        Descriptor
	system      string
	model       string
	llm         llm.Client
	tools       *tools.Registry
	peers       []ID
	maxIter     int
	toolTimeout time.Duration
	logger      *slog.Logger
}

// NewAgent creates an LLM-backed handler.
func NewAgent(cfg AgentConfig, client llm.Client, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Descriptor.DeclinedSentinel == "" {
		cfg.Descriptor.DeclinedSentinel = DefaultSentinel
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = defaultMaxIter
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	reg := cfg.Tools
	if reg == nil {
		reg = tools.NewRegistry()
	}

	var peers []ID
	var peerPrompt []prompts.Peer
	for _, p := range cfg.Peers {
		if p.ID == cfg.Descriptor.ID {
			continue
		}
		peers = append(peers, p.ID)
		peerPrompt = append(peerPrompt, prompts.Peer{ID: string(p.ID), Description: p.Description})
	}

	return &Agent{
		desc:        cfg.Descriptor,
		system:      prompts.HandlerSystemPrompt(cfg.Prompt, cfg.Descriptor.DeclinedSentinel, peerPrompt),
		model:       cfg.Model,
		llm:         client,
		tools:       reg,
		peers:       peers,
		maxIter:     cfg.MaxIter,
		toolTimeout: cfg.ToolTimeout,
		logger:      logger.With("handler", string(cfg.Descriptor.ID)),
	}
}

// Descriptor implements Handler.
func (a *Agent) Descriptor() Descriptor { return a.desc }

// SystemPrompt returns the assembled system prompt.
func (a *Agent) SystemPrompt() string { return a.system }

// Handle implements Handler.
func (a *Agent) Handle(ctx context.Context, st conversation.State) conversation.State {
	reply := a.reply(ctx, st)
	return st.Append(conversation.NewMessage(string(a.desc.ID), reply))
}

func (a *Agent) reply(ctx context.Context, st conversation.State) string {
	messages := a.buildMessages(st)
	toolDefs := a.toolDefs()
	nudged := false

	for i := range a.maxIter {
		if err := ctx.Err(); err != nil {
			a.logger.Warn("handler cancelled", "conversation_id", st.ID, "error", err)
			return prompts.HandlerFallback
		}

		start := time.Now()
		resp, err := a.llm.Chat(ctx, llm.ChatRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			a.logger.Error("handler llm call failed",
				"conversation_id", st.ID,
				"iter", i,
				"error", err,
			)
			return prompts.HandlerFallback
		}

		a.logger.Debug("handler llm response",
			"conversation_id", st.ID,
			"iter", i,
			"model", resp.Model,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
			"tool_calls", len(resp.Message.ToolCalls),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)

		if len(resp.Message.ToolCalls) == 0 {
			content := strings.TrimSpace(resp.Message.Content)
			if content == "" {
				if nudged {
					a.logger.Warn("handler returned empty response after nudge", "conversation_id", st.ID)
					return prompts.HandlerFallback
				}
				nudged = true
				a.logger.Warn("handler returned empty response, nudging", "conversation_id", st.ID, "iter", i)
				messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompts.EmptyResponseNudge})
				continue
			}
			return a.normalize(content)
		}

		if marker, ok := a.handoff(resp.Message.ToolCalls); ok {
			a.logger.Info("handler handed off", "conversation_id", st.ID, "reply", marker)
			return marker
		}

		messages = append(messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    a.execTool(ctx, st.ID, tc),
				ToolCallID: tc.ID,
			})
		}
	}

	return a.forceText(ctx, st.ID, messages)
}

// forceText makes a final call without tools to get a text reply once
// the iteration budget is spent.
func (a *Agent) forceText(ctx context.Context, convID string, messages []llm.Message) string {
	a.logger.Warn("handler max iterations reached", "conversation_id", convID, "max_iter", a.maxIter)
	resp, err := a.llm.Chat(ctx, llm.ChatRequest{Model: a.model, Messages: messages})
	if err != nil {
		a.logger.Error("handler final llm call failed", "conversation_id", convID, "error", err)
		return prompts.HandlerFallback
	}
	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return prompts.HandlerFallback
	}
	return a.normalize(content)
}

func (a *Agent) execTool(ctx context.Context, convID string, tc llm.ToolCall) string {
	toolCtx, cancel := context.WithTimeout(ctx, a.toolTimeout)
	defer cancel()

	start := time.Now()
	result, err := a.tools.Execute(toolCtx, tc.Function.Name, tc.Function.Arguments)
	if err != nil {
		a.logger.Error("handler tool exec failed",
			"conversation_id", convID,
			"tool", tc.Function.Name,
			"error", err,
		)
		return "Error: " + err.Error()
	}
	a.logger.Debug("handler tool exec done",
		"conversation_id", convID,
		"tool", tc.Function.Name,
		"result_len", len(result),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return result
}

// handoff returns the routing marker for the first handoff call that
// names a known peer.
func (a *Agent) handoff(calls []llm.ToolCall) (string, bool) {
	for _, tc := range calls {
		if tc.Function.Name != HandoffTool {
			continue
		}
		target, _ := tc.Function.Arguments["target"].(string)
		if !slices.Contains(a.peers, ID(target)) {
			a.logger.Warn("handoff to unknown peer ignored", "target", target)
			continue
		}
		summary, _ := tc.Function.Arguments["summary"].(string)
		return strings.TrimSpace(conversation.HandoffMarker(target) + " " + strings.TrimSpace(summary)), true
	}
	return "", false
}

// normalize maps near-miss decline replies such as "'NOT_ME'" or
// "not_me." onto the exact sentinel the router counts.
func (a *Agent) normalize(content string) string {
	trimmed := strings.Trim(content, " \t\r\n'\"`.!")
	if strings.EqualFold(trimmed, a.desc.DeclinedSentinel) {
		return a.desc.DeclinedSentinel
	}
	return content
}

// buildMessages renders the conversation for the model. The agent's own
// earlier replies become assistant turns. Everyone else speaks as a
// named user so the model can tell the client from the supervisor and
// from other teams.
func (a *Agent) buildMessages(st conversation.State) []llm.Message {
	out := make([]llm.Message, 0, len(st.History)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: a.system})
	for _, m := range st.History {
		if m.Sender == string(a.desc.ID) {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
			continue
		}
		out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content, Name: m.Sender})
	}
	return out
}

type handoffArgs struct {
	Target  string `json:"target" jsonschema:"The team to hand the conversation to"`
	Summary string `json:"summary" jsonschema:"Short summary of what the client needs"`
}

func (a *Agent) toolDefs() []map[string]any {
	defs := a.tools.List()
	if len(a.peers) == 0 {
		return defs
	}

	params := tools.SchemaFor[handoffArgs]()
	if props, ok := params["properties"].(map[string]any); ok {
		if target, ok := props["target"].(map[string]any); ok {
			enum := make([]any, 0, len(a.peers))
			for _, p := range a.peers {
				enum = append(enum, string(p))
			}
			target["enum"] = enum
		}
	}
	return append(defs, map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        HandoffTool,
			"description": "Hand the conversation to another team that is better placed to help.",
			"parameters":  params,
		},
	})
}
