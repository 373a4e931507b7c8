package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/switchboard/internal/crm"
	"github.com/nugget/switchboard/internal/email"
)

// KnowledgeSearcher finds known solutions for a problem description.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]crm.Solution, error)
}

// LogSearcher finds recent log lines matching a pattern.
type LogSearcher interface {
	Search(ctx context.Context, pattern string, hours int) ([]string, error)
}

// Mailer delivers a tagged markdown message. *email.Sender satisfies it.
type Mailer interface {
	Deliver(ctx context.Context, m email.Message) error
}

// DiagnosticDeps wires the diagnostic tools to their backends. A nil
// backend leaves the matching tool unregistered.
type DiagnosticDeps struct {
	Knowledge        KnowledgeSearcher
	Logs             LogSearcher
	Mailer           Mailer
	EngineeringEmail string
}

type kbArgs struct {
	Query string `json:"query" jsonschema:"A natural language description of the problem, error message or keyword"`
}

type logArgs struct {
	ErrorPattern   string `json:"error_pattern" jsonschema:"Pattern to search for, e.g. 'Error code: 500'"`
	TimeframeHours int    `json:"timeframe_hours,omitempty" jsonschema:"Hours to search back from now, default 1"`
}

type escalateArgs struct {
	ProblemSummary string   `json:"problem_summary" jsonschema:"A concise summary of the issue"`
	Logs           []string `json:"logs,omitempty" jsonschema:"Relevant log entries"`
}

// SetDiagnosticTools registers the knowledge base, log search and
// engineering escalation tools.
func (r *Registry) SetDiagnosticTools(d DiagnosticDeps) {
	if d.Knowledge != nil {
		r.Register(&Tool{
			Name:        "search_knowledge_base",
			Description: "Search the internal knowledge base for solutions to known problems. This is the primary source for fixes to common issues.",
			Parameters:  SchemaFor[kbArgs](),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				q := stringArg(args, "query")
				if q == "" {
					return "", errors.New("query is required")
				}
				found, err := d.Knowledge.Search(ctx, q, 5)
				if err != nil {
					return "", err
				}
				if len(found) == 0 {
					return "No known solutions matched.", nil
				}
				return jsonResult(found)
			},
		})
	}

	if d.Logs != nil {
		r.Register(&Tool{
			Name:        "search_log_files",
			Description: "Search the centralized log service for recent occurrences of an error pattern.",
			Parameters:  SchemaFor[logArgs](),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				p := stringArg(args, "error_pattern")
				if p == "" {
					return "", errors.New("error_pattern is required")
				}
				lines, err := d.Logs.Search(ctx, p, intArg(args, "timeframe_hours", 1))
				if err != nil {
					return "", err
				}
				if len(lines) == 0 {
					return "No matching log entries.", nil
				}
				return strings.Join(lines, "\n"), nil
			},
		})
	}

	if d.Mailer != nil && d.EngineeringEmail != "" {
		r.Register(&Tool{
			Name:        "escalate_to_engineering",
			Description: "Escalate a problem to the human engineering team with a summary and relevant log lines.",
			Parameters:  SchemaFor[escalateArgs](),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				summary := stringArg(args, "problem_summary")
				if summary == "" {
					return "", errors.New("problem_summary is required")
				}
				subject, body := EscalationMessage(summary, stringSlice(args["logs"]))
				err := d.Mailer.Deliver(ctx, email.Message{
					To:      []string{d.EngineeringEmail},
					Subject: subject,
					Body:    body,
					Event:   "escalation",
				})
				if err != nil {
					return "", fmt.Errorf("send escalation: %w", err)
				}
				return "Problem escalated to the engineering team at " + d.EngineeringEmail + ".", nil
			},
		})
	}
}

// EscalationMessage builds the subject and body of an engineering
// escalation email.
func EscalationMessage(summary string, logs []string) (subject, body string) {
	subject = "Urgent: Escalation from Diagnostic Agent - " + summary

	var b strings.Builder
	b.WriteString("Problem Summary:\n")
	b.WriteString(summary)
	b.WriteString("\n\n")
	if len(logs) > 0 {
		b.WriteString("Relevant Log Entries:\n")
		b.WriteString(strings.Join(logs, "\n"))
	} else {
		b.WriteString("No specific logs were found during the automated diagnosis.")
	}
	return subject, b.String()
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
