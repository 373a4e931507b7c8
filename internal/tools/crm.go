package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nugget/switchboard/internal/crm"
)

// CRM is the slice of the CRM client the ticket, opportunity and
// customer tools need.
type CRM interface {
	GetTicket(ctx context.Context, id string) (*crm.Ticket, error)
	UpdateTicketStatus(ctx context.Context, id string, u crm.TicketUpdate) error
	GetOpportunity(ctx context.Context, id string) (*crm.Opportunity, error)
	CreateOpportunity(ctx context.Context, o crm.Opportunity) (*crm.Opportunity, error)
	FindCustomer(ctx context.Context, name string) (*crm.Customer, error)
	CustomerHistory(ctx context.Context, id string) ([]crm.Interaction, error)
}

var baseHours = map[string]float64{
	"critical": 2,
	"high":     8,
	"medium":   24,
	"low":      72,
}

var categoryMultiplier = map[string]float64{
	"security": 0.5,
	"network":  1.2,
	"software": 1.0,
	"hardware": 1.5,
	"general":  1.0,
}

// Estimate is a ticket resolution time estimate.
type Estimate struct {
	Hours      float64 `json:"estimated_hours"`
	Completion string  `json:"estimated_completion"`
	Priority   string  `json:"priority"`
	Category   string  `json:"category"`
}

// EstimateResolution estimates how long a ticket takes to resolve from
// its priority and category. Unknown priorities count as medium and
// unknown categories carry no multiplier.
func EstimateResolution(priority, category string, now time.Time) Estimate {
	p := strings.ToLower(strings.TrimSpace(priority))
	c := strings.ToLower(strings.TrimSpace(category))

	base, ok := baseHours[p]
	if !ok {
		base = 24
	}
	mult, ok := categoryMultiplier[c]
	if !ok {
		mult = 1.0
	}
	hours := base * mult

	return Estimate{
		Hours:      math.Round(hours*10) / 10,
		Completion: now.Add(time.Duration(hours * float64(time.Hour))).Format(time.DateTime),
		Priority:   capitalize(p),
		Category:   capitalize(c),
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

type ticketIDArgs struct {
	TicketID string `json:"ticket_id" jsonschema:"The unique identifier of the ticket"`
}

type updateTicketArgs struct {
	TicketID  string `json:"ticket_id" jsonschema:"The unique identifier of the ticket"`
	NewStatus string `json:"new_status" jsonschema:"New status: Open, In Progress, Resolved or Closed"`
	Notes     string `json:"notes,omitempty" jsonschema:"Optional notes about the status change"`
}

type estimateArgs struct {
	Priority string `json:"priority" jsonschema:"Priority level: Critical, High, Medium or Low"`
	Category string `json:"category" jsonschema:"Issue category: Security, Network, Software, Hardware or General"`
}

type newTicketArgs struct {
	TicketID    string `json:"ticket_id" jsonschema:"Ticket id assigned by the CRM"`
	Title       string `json:"title" jsonschema:"Ticket title"`
	ClientName  string `json:"client_name" jsonschema:"Name of the client who opened the ticket"`
	ClientEmail string `json:"client_email" jsonschema:"Email address of the client"`
	Description string `json:"description,omitempty" jsonschema:"Ticket description"`
	Priority    string `json:"priority,omitempty" jsonschema:"Priority level, Medium when unknown"`
	Category    string `json:"category,omitempty" jsonschema:"Issue category, General when unknown"`
}

// SetTicketTools registers the ticket tools backed by c.
func (r *Registry) SetTicketTools(c CRM) {
	now := time.Now

	r.Register(&Tool{
		Name:        "get_ticket_state",
		Description: "Get the current state of a support ticket by its ID: status, priority, category, assignee and timestamps.",
		Parameters:  SchemaFor[ticketIDArgs](),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id := stringArg(args, "ticket_id")
			if id == "" {
				return "", errors.New("ticket_id is required")
			}
			t, err := c.GetTicket(ctx, id)
			if err != nil {
				if errors.Is(err, crm.ErrNotFound) {
					return fmt.Sprintf("No ticket found with id %s.", id), nil
				}
				return "", err
			}
			return jsonResult(t)
		},
	})

	r.Register(&Tool{
		Name:        "update_ticket_status",
		Description: "Update the status of an existing ticket, with optional notes about the change.",
		Parameters:  SchemaFor[updateTicketArgs](),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id := stringArg(args, "ticket_id")
			status := stringArg(args, "new_status")
			if id == "" || status == "" {
				return "", errors.New("ticket_id and new_status are required")
			}
			u := crm.TicketUpdate{
				Status:    status,
				Notes:     stringArg(args, "notes"),
				UpdatedAt: now().Format(time.RFC3339),
			}
			if err := c.UpdateTicketStatus(ctx, id, u); err != nil {
				return "", err
			}
			return fmt.Sprintf("Ticket %s status updated to %s", id, status), nil
		},
	})

	r.Register(&Tool{
		Name:        "estimate_resolution_time",
		Description: "Estimate the resolution time of a ticket from its priority and category.",
		Parameters:  SchemaFor[estimateArgs](),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return jsonResult(EstimateResolution(stringArg(args, "priority"), stringArg(args, "category"), now()))
		},
	})

	r.Register(&Tool{
		Name:        "process_new_ticket",
		Description: "Process a ticket that was just created in the CRM: validate it, estimate resolution and list follow-up actions.",
		Parameters:  SchemaFor[newTicketArgs](),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return ProcessNewTicket(args, now())
		},
	})
}

// ProcessNewTicket validates a freshly created ticket and returns the
// processing summary as JSON.
func ProcessNewTicket(args map[string]any, now time.Time) (string, error) {
	id := stringArg(args, "ticket_id")
	if id == "" {
		id = stringArg(args, "id")
	}
	name := stringArg(args, "client_name")
	email := stringArg(args, "client_email")
	title := stringArg(args, "title")
	if id == "" || name == "" || email == "" || title == "" {
		return "", errors.New("missing required ticket information (ticket_id, client_email, client_name, title)")
	}

	priority := stringArg(args, "priority")
	if priority == "" {
		priority = "Medium"
	}
	category := stringArg(args, "category")
	if category == "" {
		category = "General"
	}

	return jsonResult(map[string]any{
		"ticket_id": id,
		"client_info": map[string]string{
			"name":  name,
			"email": email,
		},
		"ticket_details": map[string]string{
			"title":       title,
			"description": stringArg(args, "description"),
			"priority":    priority,
			"category":    category,
		},
		"confirmation_subject": fmt.Sprintf("Ticket Confirmation - #%s: %s", id, title),
		"resolution_estimate":  EstimateResolution(priority, category, now),
		"actions_required": []string{
			"send_confirmation_email",
			"assign_to_technician",
			"schedule_follow_up",
		},
		"message": fmt.Sprintf("New ticket %s processed successfully", id),
	})
}

type opportunityIDArgs struct {
	OpportunityID string `json:"opportunity_id" jsonschema:"The unique identifier of the opportunity"`
}

type createOpportunityArgs struct {
	Name        string  `json:"name" jsonschema:"Opportunity name"`
	Company     string  `json:"company,omitempty" jsonschema:"Customer company"`
	Amount      float64 `json:"amount,omitempty" jsonschema:"Expected deal amount"`
	Priority    string  `json:"priority,omitempty" jsonschema:"Priority level"`
	Description string  `json:"description,omitempty" jsonschema:"What the customer wants"`
}

// SetOpportunityTools registers the sales opportunity tools backed by c.
func (r *Registry) SetOpportunityTools(c CRM) {
	r.Register(&Tool{
		Name:        "get_opportunity_state",
		Description: "Get the current state of a sales opportunity by its ID.",
		Parameters:  SchemaFor[opportunityIDArgs](),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id := stringArg(args, "opportunity_id")
			if id == "" {
				return "", errors.New("opportunity_id is required")
			}
			o, err := c.GetOpportunity(ctx, id)
			if err != nil {
				if errors.Is(err, crm.ErrNotFound) {
					return fmt.Sprintf("No opportunity found with id %s.", id), nil
				}
				return "", err
			}
			return jsonResult(o)
		},
	})

	r.Register(&Tool{
		Name:        "create_opportunity",
		Description: "Create a new sales opportunity in the CRM.",
		Parameters:  SchemaFor[createOpportunityArgs](),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name := stringArg(args, "name")
			if name == "" {
				return "", errors.New("name is required")
			}
			amount, _ := args["amount"].(float64)
			o, err := c.CreateOpportunity(ctx, crm.Opportunity{
				Name:        name,
				Company:     stringArg(args, "company"),
				Amount:      amount,
				Priority:    stringArg(args, "priority"),
				Description: stringArg(args, "description"),
				Status:      "Open",
			})
			if err != nil {
				return "", err
			}
			return jsonResult(o)
		},
	})
}

type customerNameArgs struct {
	Name string `json:"name" jsonschema:"Customer name"`
}

type clientHistoryArgs struct {
	ClientID string `json:"client_id" jsonschema:"The customer ID"`
}

// SetCustomerTools registers the customer lookup tools backed by c.
func (r *Registry) SetCustomerTools(c CRM) {
	r.Register(&Tool{
		Name:        "get_customer_info",
		Description: "Get information about a customer by name.",
		Parameters:  SchemaFor[customerNameArgs](),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name := stringArg(args, "name")
			if name == "" {
				return "", errors.New("name is required")
			}
			cust, err := c.FindCustomer(ctx, name)
			if err != nil {
				if errors.Is(err, crm.ErrNotFound) {
					return fmt.Sprintf("No customer named %s.", name), nil
				}
				return "", err
			}
			return jsonResult(cust)
		},
	})

	r.Register(&Tool{
		Name:        "get_client_history",
		Description: "Retrieve the full history of interactions with a given client ID.",
		Parameters:  SchemaFor[clientHistoryArgs](),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id := stringArg(args, "client_id")
			if id == "" {
				return "", errors.New("client_id is required")
			}
			h, err := c.CustomerHistory(ctx, id)
			if err != nil {
				return "", err
			}
			if len(h) == 0 {
				return fmt.Sprintf("No recorded interactions for client %s.", id), nil
			}
			return jsonResult(h)
		},
	})
}
