package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/llm"
	"github.com/nugget/switchboard/internal/prompts"
	"github.com/nugget/switchboard/internal/tools"
)

// RouteTool is the name of the function the supervisor model must call.
const RouteTool = "route"

// LLM classifies with a chat model forced to call the route function.
type LLM struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// NewLLM creates a model-backed classifier.
func NewLLM(client llm.Client, model string, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{client: client, model: model, logger: logger}
}

// Classify implements Classifier.
func (c *LLM) Classify(ctx context.Context, req Request) (Decision, error) {
	start := time.Now()
	resp, err := c.client.Chat(ctx, llm.ChatRequest{
		Model:      c.model,
		Messages:   BuildMessages(req),
		Tools:      []map[string]any{RouteToolDef(req.Options)},
		ToolChoice: RouteTool,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("classify: %w", err)
	}

	for _, tc := range resp.Message.ToolCalls {
		if tc.Function.Name != RouteTool {
			continue
		}
		d, err := FromArgs(tc.Function.Arguments, req.Options)
		c.logger.Debug("classifier decision",
			"conversation_id", req.ConversationID,
			"model", resp.Model,
			"kind", d.Kind,
			"target", d.Target,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
			"elapsed", time.Since(start).Round(time.Millisecond),
			"error", err,
		)
		return d, err
	}
	return Decision{}, fmt.Errorf("%w: model did not call %s", ErrMalformed, RouteTool)
}

// BuildMessages renders the supervisor prompt, the bounded history and
// the closing routing question.
func BuildMessages(req Request) []llm.Message {
	targets := make([]prompts.RouteTarget, 0, len(req.Handlers))
	for _, d := range req.Handlers {
		targets = append(targets, prompts.RouteTarget{ID: string(d.ID), Description: d.Description})
	}

	out := make([]llm.Message, 0, len(req.History)+2)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: prompts.SupervisorPrompt(targets)})
	for _, m := range req.History {
		role := llm.RoleUser
		if m.Sender == conversation.SenderSupervisor {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content, Name: m.Sender})
	}
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: prompts.RouteQuestion(req.Options)})
	return out
}

// RouteToolDef returns the route function definition with next limited
// to options.
func RouteToolDef(options []string) map[string]any {
	params := tools.SchemaFor[routeArgs]()
	if props, ok := params["properties"].(map[string]any); ok {
		if next, ok := props["next"].(map[string]any); ok {
			enum := make([]any, 0, len(options))
			for _, o := range options {
				enum = append(enum, o)
			}
			next["enum"] = enum
		}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        RouteTool,
			"description": prompts.RouteToolDescription,
			"parameters":  params,
		},
	}
}
