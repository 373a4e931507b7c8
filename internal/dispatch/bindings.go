package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/switchboard/internal/agent"
	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/handler"
)

// Starter runs a conversation to completion. *agent.Loop satisfies it.
type Starter interface {
	Run(ctx context.Context, st conversation.State) (agent.Result, error)
}

// Notifier tells the customer about an event.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// ConversationBinding starts an async conversation pinned to owner. The
// first message is payload["message"] when present, else defaultText.
func ConversationBinding(conv Starter, owner handler.ID, defaultText string) Binding {
	return Binding{
		Name: "conversation:" + string(owner),
		Fn: func(ctx context.Context, e Event) error {
			text := strings.TrimSpace(e.String("message"))
			if text == "" {
				text = defaultText
			}
			st := conversation.New("", conversation.ModeAsync, conversation.NewMessage(conversation.SenderUser, text))
			st.EventKind = string(e.Kind)
			st = st.WithNext(string(owner))

			if _, err := conv.Run(ctx, st); err != nil {
				return fmt.Errorf("%s conversation: %w", owner, err)
			}
			return nil
		},
	}
}

// NotificationBinding sends the customer notification for an event.
func NotificationBinding(n Notifier) Binding {
	return Binding{Name: "notification", Fn: n.Notify}
}

type defaultRoute struct {
	kinds []EventKind
	owner handler.ID
	text  map[EventKind]string
}

var defaultRoutes = []defaultRoute{
	{
		owner: handler.TechnicalSupport,
		kinds: []EventKind{TicketCreate, TicketStateUpdate, TicketUpdate, TicketDelete, TicketClose, TicketResolutionEstimate},
		text: map[EventKind]string{
			TicketCreate:             "New ticket created.",
			TicketStateUpdate:        "Ticket state updated.",
			TicketUpdate:             "Ticket updated.",
			TicketDelete:             "Ticket deleted.",
			TicketClose:              "Ticket closed.",
			TicketResolutionEstimate: "Estimate the resolution time of this ticket.",
		},
	},
	{
		owner: handler.SalesManager,
		kinds: []EventKind{OpportunityCreate, OpportunityStateUpdate, OpportunityResolve, OpportunityUpdate, OpportunityLost, OpportunityDelete},
		text: map[EventKind]string{
			OpportunityCreate:      "New opportunity created.",
			OpportunityStateUpdate: "Opportunity state updated.",
			OpportunityResolve:     "Opportunity resolved.",
			OpportunityUpdate:      "Opportunity updated.",
			OpportunityLost:        "Opportunity lost.",
			OpportunityDelete:      "Opportunity deleted.",
		},
	},
	{
		owner: handler.CustomerSupport,
		kinds: []EventKind{CustomerUpdate},
		text: map[EventKind]string{
			CustomerUpdate: "Customer information updated.",
		},
	},
}

// DefaultTable binds every known CRM event to its owning handler's
// conversation followed by the customer notification. A nil notifier
// leaves notifications out.
func DefaultTable(conv Starter, notifier Notifier) Table {
	t := make(Table)
	for _, r := range defaultRoutes {
		for _, k := range r.kinds {
			bs := []Binding{ConversationBinding(conv, r.owner, r.text[k])}
			if notifier != nil {
				bs = append(bs, NotificationBinding(notifier))
			}
			t[k] = bs
		}
	}
	return t
}
