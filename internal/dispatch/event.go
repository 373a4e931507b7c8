// Package dispatch routes asynchronous CRM events to the work they
// trigger. Each event kind maps to an ordered list of bindings, usually
// a handler conversation followed by a customer notification.
package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDecode is returned for event payloads that are not a JSON object.
var ErrDecode = errors.New("invalid event payload")

// ErrUnknownKind marks an event kind with no bindings.
var ErrUnknownKind = errors.New("unknown event kind")

// EventKind is the CRM's name for an event. Values match the wire names
// the CRM publishes.
type EventKind string

// Ticket events, owned by technical support.
const (
	TicketCreate             EventKind = "ticket create"
	TicketStateUpdate        EventKind = "ticket state update"
	TicketUpdate             EventKind = "ticket update"
	TicketDelete             EventKind = "ticket delete"
	TicketClose              EventKind = "ticket close"
	TicketResolutionEstimate EventKind = "Estimate resolution time"
)

// Opportunity events, owned by the sales manager.
const (
	OpportunityCreate      EventKind = "opportunity create"
	OpportunityStateUpdate EventKind = "opportunity state update"
	OpportunityResolve     EventKind = "opportunity resolve"
	OpportunityUpdate      EventKind = "opportunity update"
	OpportunityLost        EventKind = "opportunity_lost"
	OpportunityDelete      EventKind = "opportunity delete"
)

// CustomerUpdate is owned by customer support.
const CustomerUpdate EventKind = "customer_update"

// Event is one decoded CRM event.
type Event struct {
	Kind       EventKind      `json:"event_type"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at"`
}

// String returns the payload value for key as text, or "" when absent.
func (e Event) String(key string) string {
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Decode builds an Event from a kind and its raw JSON payload. Anything
// but a JSON object is rejected with ErrDecode.
func Decode(kind string, payload []byte) (Event, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, fmt.Errorf("%w: %s payload is not a JSON object", ErrDecode, kind)
	}
	var p map[string]any
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %s: %v", ErrDecode, kind, err)
	}
	return Event{Kind: EventKind(kind), Payload: p, ReceivedAt: time.Now()}, nil
}

// Envelope is the wire shape events arrive in over MQTT and HTTP.
type Envelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// DecodeEnvelope decodes a full {"event_type", "payload"} message.
func DecodeEnvelope(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.EventType == "" {
		return Event{}, fmt.Errorf("%w: missing event_type", ErrDecode)
	}
	return Decode(env.EventType, env.Payload)
}
