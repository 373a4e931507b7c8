package prompts

import (
	"fmt"
	"strings"
)

// RouteTarget describes one routing option for the supervisor prompt.
type RouteTarget struct {
	ID          string
	Description string
}

// RouteToolDescription is the description of the supervisor's forced
// routing function.
const RouteToolDescription = "Select the next role or answer directly."

// SupervisorPrompt returns the supervisor system prompt for the given
// handler catalogue.
func SupervisorPrompt(targets []RouteTarget) string {
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID)
	}

	var b strings.Builder
	b.WriteString("Role: Conversation Supervisor\n")
	b.WriteString("Objective: Manage routing of user requests to the appropriate agent.\n")
	fmt.Fprintf(&b, "Context: You are a high-level orchestrator coordinating between specialized agents: %s.\n", strings.Join(ids, ", "))
	b.WriteString("Task:\n")
	b.WriteString("1. Receive user input from the conversation.\n")
	b.WriteString("2. If it's a general greeting, question, or you can handle it directly, answer in the 'answer' field and set 'next' to 'FINISH'.\n")
	b.WriteString("3. If it belongs to one of the agents below, set 'answer' to an empty string and choose that agent in 'next'.\n")
	b.WriteString("4. If an agent has already given the user a complete reply, set 'next' to 'FINISH' with an empty answer.\n")
	b.WriteString("5. If the request is off-topic, respond with a short polite message and set 'next' to 'FINISH'.\n\n")
	b.WriteString("Routing Guidelines:\n")
	for _, t := range targets {
		fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Description)
	}
	b.WriteString("An agent that replies with its decline marker cannot help; pick another agent or FINISH.\n")
	b.WriteString("If unsure, choose the most likely agent and let them ask for clarification.\n\n")
	b.WriteString("Communication Guidelines:\n")
	b.WriteString("- Never respond in plain text. Always call the `route` function.\n")
	return b.String()
}

// RouteQuestion is the closing system message after the conversation
// history.
func RouteQuestion(options []string) string {
	return fmt.Sprintf("Given the conversation above, who should act next? Or should we FINISH? Select one of: %s", strings.Join(options, ", "))
}
