package prompts

import (
	"fmt"
	"strings"
)

// EmptyResponseNudge is the prompt injected when a handler model returns
// no content and no tool calls. It gives the model one more chance to
// produce a reply.
const EmptyResponseNudge = "You executed tool calls but did not provide a response. Please respond now."

// HandlerFallback is appended on a handler's behalf when it fails to
// produce a reply of its own.
const HandlerFallback = "Sorry, I couldn't generate a response."

// DeclineInstruction tells a handler how to refuse a request outside its
// scope. The sentinel comes from the handler descriptor so the router
// and the prompt can never disagree.
func DeclineInstruction(sentinel string) string {
	return fmt.Sprintf("If the request is not within your responsibilities, respond with exactly: '%s' and nothing else.", sentinel)
}

// Peer is a handler a model may hand a conversation to.
type Peer struct {
	ID          string
	Description string
}

// HandoffInstruction explains the handoff tool and lists the peers.
func HandoffInstruction(peers []Peer) string {
	if len(peers) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("If another team is clearly better placed to continue, call the `handoff` tool with that team and a short summary of what the client needs. Available teams:\n")
	for _, p := range peers {
		fmt.Fprintf(&b, "- %s: %s\n", p.ID, p.Description)
	}
	return b.String()
}

// HandlerSystemPrompt assembles the full system prompt of a handler.
func HandlerSystemPrompt(base, sentinel string, peers []Peer) string {
	parts := []string{strings.TrimSpace(base), DeclineInstruction(sentinel)}
	if h := HandoffInstruction(peers); h != "" {
		parts = append(parts, strings.TrimSpace(h))
	}
	return strings.Join(parts, "\n\n")
}
