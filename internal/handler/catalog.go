package handler

import (
	"log/slog"

	"github.com/nugget/switchboard/internal/llm"
	"github.com/nugget/switchboard/internal/prompts"
	"github.com/nugget/switchboard/internal/tools"
)

// Built-in handler ids.
const (
	CustomerSupport  ID = "customer_support"
	SalesManager     ID = "sales_manager"
	TechnicalSupport ID = "technical_support"
	Diagnostic       ID = "diagnostic"
)

// Profile is the static definition of a built-in handler.
type Profile struct {
	ID          ID
	Description string
	Prompt      string

	// AllowedTools names the tools the handler may call. Tools that are
	// not registered (for example because a backend is not configured)
	// are silently absent.
	AllowedTools []string

	// HandsOffTo lists the peers offered through the handoff tool.
	HandsOffTo []ID
}

// BuiltinProfiles returns the built-in handler catalogue in routing
// order.
func BuiltinProfiles() []Profile {
	return []Profile{
		{
			ID:          CustomerSupport,
			Description: "Customer service: confirmation and progress of requests, account information, interaction history and general customer inquiries.",
			Prompt:      prompts.CustomerSupportPrompt,
			AllowedTools: []string{
				"get_customer_info",
				"get_client_history",
			},
			HandsOffTo: []ID{SalesManager, TechnicalSupport},
		},
		{
			ID:          SalesManager,
			Description: "Sales: opportunities and their state, creating opportunities, appointments and reminders, deal estimates.",
			Prompt:      prompts.SalesManagerPrompt(),
			AllowedTools: []string{
				"get_opportunity_state",
				"create_opportunity",
				"get_client_history",
			},
			HandsOffTo: []ID{CustomerSupport},
		},
		{
			ID:          TechnicalSupport,
			Description: "Technical support: ticket state and status updates, new ticket processing, resolution time estimates, product problems.",
			Prompt:      prompts.TechnicalSupportPrompt(),
			AllowedTools: []string{
				"get_ticket_state",
				"update_ticket_status",
				"estimate_resolution_time",
				"process_new_ticket",
			},
			HandsOffTo: []ID{Diagnostic, CustomerSupport},
		},
		{
			ID:          Diagnostic,
			Description: "Technical diagnosis: knowledge base solutions, log analysis and escalation of unresolved problems to engineering.",
			Prompt:      prompts.DiagnosticPrompt(),
			AllowedTools: []string{
				"search_knowledge_base",
				"search_log_files",
				"escalate_to_engineering",
			},
			HandsOffTo: []ID{TechnicalSupport},
		},
	}
}

// Override adjusts one built-in handler from configuration.
type Override struct {
	Model    string
	Prompt   string
	Sentinel string
	MaxIter  int
	Disabled bool
}

// Catalog builds LLM-backed handlers from profiles.
type Catalog struct {
	LLM          llm.Client
	Tools        *tools.Registry
	DefaultModel string
	Overrides    map[ID]Override
	Logger       *slog.Logger
}

// Build returns one Agent per enabled profile, in profile order. Handoff
// peers that are disabled are dropped.
func (c Catalog) Build(profiles []Profile) []Handler {
	reg := c.Tools
	if reg == nil {
		reg = tools.NewRegistry()
	}

	descs := make(map[ID]Descriptor, len(profiles))
	var enabled []Profile
	for _, p := range profiles {
		o := c.Overrides[p.ID]
		if o.Disabled {
			continue
		}
		sentinel := o.Sentinel
		if sentinel == "" {
			sentinel = DefaultSentinel
		}
		descs[p.ID] = Descriptor{ID: p.ID, Description: p.Description, DeclinedSentinel: sentinel}
		enabled = append(enabled, p)
	}

	out := make([]Handler, 0, len(enabled))
	for _, p := range enabled {
		o := c.Overrides[p.ID]

		var peers []Descriptor
		for _, id := range p.HandsOffTo {
			if d, ok := descs[id]; ok {
				peers = append(peers, d)
			}
		}

		prompt := p.Prompt
		if o.Prompt != "" {
			prompt = o.Prompt
		}
		model := c.DefaultModel
		if o.Model != "" {
			model = o.Model
		}

		out = append(out, NewAgent(AgentConfig{
			Descriptor: descs[p.ID],
			Prompt:     prompt,
			Model:      model,
			Tools:      reg.FilteredCopy(p.AllowedTools),
			Peers:      peers,
			MaxIter:    o.MaxIter,
		}, c.LLM, c.Logger))
	}
	return out
}
