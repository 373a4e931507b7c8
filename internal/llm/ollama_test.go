package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOllamaWireResponse_BasicChat(t *testing.T) {
	raw := `{
		"model": "qwen3:4b",
		"created_at": "2026-02-11T15:00:00.123456789Z",
		"message": {
			"role": "assistant",
			"content": "Your ticket 42 is in progress."
		},
		"done": true,
		"total_duration": 1234567890,
		"load_duration": 100000000,
		"prompt_eval_count": 42,
		"eval_count": 15,
		"eval_duration": 600000000
	}`

	var wire ollamaWireResponse
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	resp := wire.toChatResponse()

	if resp.Model != "qwen3:4b" {
		t.Errorf("Model = %q, want %q", resp.Model, "qwen3:4b")
	}
	if resp.CreatedAt.Year() != 2026 || resp.CreatedAt.Month() != time.February {
		t.Errorf("CreatedAt = %v, expected 2026-02", resp.CreatedAt)
	}
	if resp.Message.Content != "Your ticket 42 is in progress." {
		t.Errorf("Message.Content = %q", resp.Message.Content)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 15 {
		t.Errorf("tokens = %d/%d, want 42/15", resp.InputTokens, resp.OutputTokens)
	}
	if resp.TotalDuration != 1234567890*time.Nanosecond {
		t.Errorf("TotalDuration = %v", resp.TotalDuration)
	}
}

func TestOllamaWireResponse_MissingTimestamp(t *testing.T) {
	var wire ollamaWireResponse
	if err := json.Unmarshal([]byte(`{"model":"m","message":{"role":"assistant","content":"x"},"done":true}`), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := wire.toChatResponse().CreatedAt; !got.IsZero() {
		t.Errorf("CreatedAt = %v, want zero", got)
	}
}

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		validTools []string
		wantCount  int
		wantName   string
	}{
		{name: "empty content", content: "", wantCount: 0},
		{name: "plain text", content: "The ticket is open.", wantCount: 0},
		{
			name:      "single object",
			content:   `{"name": "route", "arguments": {"next": "sales_manager", "answer": ""}}`,
			wantCount: 1,
			wantName:  "route",
		},
		{
			name:      "array",
			content:   `[{"name": "get_ticket_state", "arguments": {"ticket_id": "7"}}, {"name": "route", "arguments": {}}]`,
			wantCount: 2,
			wantName:  "get_ticket_state",
		},
		{
			name:      "tagged with preamble",
			content:   `Let me check. <tool_call>{"name": "get_ticket_state", "arguments": {"ticket_id": "7"}}</tool_call>`,
			wantCount: 1,
			wantName:  "get_ticket_state",
		},
		{
			name:      "tagged without closing tag",
			content:   `<tool_call>{"name": "route", "arguments": {"next": "FINISH"}}`,
			wantCount: 1,
			wantName:  "route",
		},
		{
			name:      "truncated JSON is repaired",
			content:   `{"name": "route", "arguments": {"next": "technical_support"`,
			wantCount: 1,
			wantName:  "route",
		},
		{name: "empty name", content: `{"name": "", "arguments": {}}`, wantCount: 0},
		{
			name:       "unknown tool rejected",
			content:    `{"name": "drop_tables", "arguments": {}}`,
			validTools: []string{"route"},
			wantCount:  0,
		},
		{
			name:       "mixed valid and invalid",
			content:    `[{"name": "route", "arguments": {}}, {"name": "nope", "arguments": {}}]`,
			validTools: []string{"route"},
			wantCount:  1,
			wantName:   "route",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content, tt.validTools)
			if len(got) != tt.wantCount {
				t.Fatalf("parseTextToolCalls() returned %d calls, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("first call = %q, want %q", got[0].Function.Name, tt.wantName)
			}
		})
	}
}

func TestExtractToolNames(t *testing.T) {
	tools := []map[string]any{
		{"function": map[string]any{"name": "route"}},
		{"broken": "entry"},
		{"function": map[string]any{"name": "handoff"}},
	}
	got := extractToolNames(tools)
	if len(got) != 2 || got[0] != "route" || got[1] != "handoff" {
		t.Errorf("extractToolNames() = %v, want [route handoff]", got)
	}
	if extractToolNames(nil) != nil {
		t.Error("extractToolNames(nil) should be nil")
	}
}

func TestOllamaChat_ToolChoiceAndTextRecovery(t *testing.T) {
	var gotReq ollamaWireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"qwen3:4b","message":{"role":"assistant","content":"{\"name\":\"route\",\"arguments\":{\"next\":\"sales_manager\"}}"},"done":true}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	resp, err := c.Chat(context.Background(), ChatRequest{
		Model:    "qwen3:4b",
		Messages: []Message{{Role: RoleUser, Content: "I want a new opportunity"}},
		Tools: []map[string]any{
			{"type": "function", "function": map[string]any{"name": "route"}},
			{"type": "function", "function": map[string]any{"name": "other"}},
		},
		ToolChoice: "route",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(gotReq.Tools) != 1 {
		t.Errorf("sent %d tools, want only the forced one", len(gotReq.Tools))
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.Message.ToolCalls))
	}
	call := resp.Message.ToolCalls[0].Function
	if call.Name != "route" || call.Arguments["next"] != "sales_manager" {
		t.Errorf("call = %+v", call)
	}
	if resp.Message.Content != "" {
		t.Errorf("Content = %q, want cleared", resp.Message.Content)
	}
}

func TestOllamaChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	if _, err := c.Chat(context.Background(), ChatRequest{Model: "missing"}); err == nil {
		t.Fatal("expected error for 404 response")
	}
}
