package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/switchboard/internal/agent"
	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/events"
	"github.com/nugget/switchboard/internal/handler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStarter struct {
	mu     sync.Mutex
	states []conversation.State
	err    error
}

func (f *fakeStarter) Run(_ context.Context, st conversation.State) (agent.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, st)
	return agent.Result{State: st}, f.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	kinds []EventKind
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, e.Kind)
	return f.err
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "object", payload: `{"ticket_id": "42", "customer_email": "jane@example.com"}`},
		{name: "empty object", payload: `{}`},
		{name: "padded", payload: "  \n{\"a\":1}\n"},
		{name: "invalid json", payload: `{"ticket_id": `, wantErr: true},
		{name: "array", payload: `[1, 2]`, wantErr: true},
		{name: "string", payload: `"hello"`, wantErr: true},
		{name: "null", payload: `null`, wantErr: true},
		{name: "empty", payload: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Decode("ticket create", []byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrDecode) {
					t.Errorf("Decode() error = %v, want ErrDecode", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if e.Kind != TicketCreate || e.Payload == nil || e.ReceivedAt.IsZero() {
				t.Errorf("Decode() = %+v", e)
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	e, err := DecodeEnvelope([]byte(`{"event_type": "opportunity_lost", "payload": {"opportunity_id": 7}}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if e.Kind != OpportunityLost || e.String("opportunity_id") != "7" {
		t.Errorf("event = %+v", e)
	}

	for _, raw := range []string{`not json`, `{"payload": {}}`, `{"event_type": "ticket close", "payload": [1]}`} {
		if _, err := DecodeEnvelope([]byte(raw)); !errors.Is(err, ErrDecode) {
			t.Errorf("DecodeEnvelope(%s) error = %v, want ErrDecode", raw, err)
		}
	}
}

func TestDispatch_OrderAndVisibility(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	wrote := false

	table := Table{
		TicketCreate: {
			{Name: "a", Fn: func(context.Context, Event) error {
				mu.Lock()
				defer mu.Unlock()
				wrote = true
				seen = append(seen, "a")
				return nil
			}},
			{Name: "b", Fn: func(context.Context, Event) error {
				mu.Lock()
				defer mu.Unlock()
				if !wrote {
					t.Error("b ran before a's side effect was visible")
				}
				seen = append(seen, "b")
				return nil
			}},
		},
	}
	d := New(table, testLogger(), nil)
	if err := d.Dispatch(context.Background(), Event{Kind: TicketCreate}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if strings.Join(seen, ",") != "a,b" {
		t.Errorf("order = %v, want a,b", seen)
	}
}

func TestDispatch_ErrorDoesNotStopLaterBindings(t *testing.T) {
	boom := errors.New("crm unavailable")
	ran := 0
	table := Table{
		TicketClose: {
			{Name: "fails", Fn: func(context.Context, Event) error { return boom }},
			{Name: "panics", Fn: func(context.Context, Event) error { panic("bad") }},
			{Name: "runs", Fn: func(context.Context, Event) error { ran++; return nil }},
		},
	}
	d := New(table, testLogger(), nil)

	err := d.Dispatch(context.Background(), Event{Kind: TicketClose})
	if !errors.Is(err, boom) {
		t.Errorf("Dispatch() error = %v, want joined %v", err, boom)
	}
	if ran != 1 {
		t.Errorf("later binding ran %d times, want 1", ran)
	}
}

func TestDispatch_UnknownKind(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	ran := false
	table := Table{TicketCreate: {{Name: "x", Fn: func(context.Context, Event) error { ran = true; return nil }}}}
	d := New(table, testLogger(), bus)

	err := d.Dispatch(context.Background(), Event{Kind: "invoice paid"})
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Dispatch() error = %v, want ErrUnknownKind", err)
	}
	if ran {
		t.Error("bound handler ran for an unknown kind")
	}

	var kinds []string
	for len(ch) > 0 {
		kinds = append(kinds, (<-ch).Kind)
	}
	if len(kinds) != 2 || kinds[0] != events.KindDispatchUnknown || kinds[1] != events.KindDispatchHandler {
		t.Errorf("events = %v", kinds)
	}
}

func TestIngest_MalformedRunsNothing(t *testing.T) {
	ran := false
	table := Table{TicketCreate: {{Name: "x", Fn: func(context.Context, Event) error { ran = true; return nil }}}}
	d := New(table, testLogger(), nil)

	if err := d.Ingest(context.Background(), "ticket create", []byte(`{"ticket_id": `)); !errors.Is(err, ErrDecode) {
		t.Errorf("Ingest() error = %v, want ErrDecode", err)
	}
	if ran {
		t.Error("binding ran for a malformed payload")
	}

	if err := d.Ingest(context.Background(), "ticket create", []byte(`{"ticket_id": "1"}`)); err != nil {
		t.Errorf("Ingest() error = %v", err)
	}
	if !ran {
		t.Error("binding did not run for a valid payload")
	}
}

func TestConversationBinding(t *testing.T) {
	conv := &fakeStarter{}
	b := ConversationBinding(conv, handler.TechnicalSupport, "New ticket created.")

	ctx := context.Background()
	if err := b.Fn(ctx, Event{Kind: TicketCreate, Payload: map[string]any{}}); err != nil {
		t.Fatalf("Fn: %v", err)
	}
	if err := b.Fn(ctx, Event{Kind: TicketCreate, Payload: map[string]any{"message": "Printer on fire"}}); err != nil {
		t.Fatalf("Fn: %v", err)
	}

	if len(conv.states) != 2 {
		t.Fatalf("conversations = %d, want 2", len(conv.states))
	}
	st := conv.states[0]
	if st.Mode != conversation.ModeAsync || st.Next != "technical_support" || st.EventKind != "ticket create" {
		t.Errorf("state = %+v", st)
	}
	if st.History[0].Content != "New ticket created." || st.History[0].Sender != conversation.SenderUser {
		t.Errorf("first message = %+v", st.History[0])
	}
	if got := conv.states[1].History[0].Content; got != "Printer on fire" {
		t.Errorf("payload message = %q", got)
	}
	if st.ID == "" || st.ID == conv.states[1].ID {
		t.Error("each event should get its own conversation id")
	}

	conv.err = errors.New("canceled")
	if err := b.Fn(ctx, Event{Kind: TicketCreate}); err == nil {
		t.Error("expected starter error to propagate")
	}
}

func TestDefaultTable(t *testing.T) {
	conv := &fakeStarter{}
	n := &fakeNotifier{}
	table := DefaultTable(conv, n)

	owners := map[EventKind]string{
		TicketCreate:             "technical_support",
		TicketStateUpdate:        "technical_support",
		TicketUpdate:             "technical_support",
		TicketDelete:             "technical_support",
		TicketClose:              "technical_support",
		TicketResolutionEstimate: "technical_support",
		OpportunityCreate:        "sales_manager",
		OpportunityStateUpdate:   "sales_manager",
		OpportunityResolve:       "sales_manager",
		OpportunityUpdate:        "sales_manager",
		OpportunityLost:          "sales_manager",
		OpportunityDelete:        "sales_manager",
		CustomerUpdate:           "customer_support",
	}
	if len(table) != len(owners) {
		t.Errorf("table has %d kinds, want %d", len(table), len(owners))
	}

	d := New(table, testLogger(), nil)
	for kind, owner := range owners {
		bs := table[kind]
		if len(bs) != 2 || bs[0].Name != "conversation:"+owner || bs[1].Name != "notification" {
			t.Errorf("%s bindings = %v", kind, bindingNames(bs))
		}
		if err := d.Dispatch(context.Background(), Event{Kind: kind, Payload: map[string]any{}}); err != nil {
			t.Errorf("Dispatch(%s): %v", kind, err)
		}
		last := conv.states[len(conv.states)-1]
		if last.Next != owner {
			t.Errorf("%s pinned to %q, want %q", kind, last.Next, owner)
		}
	}
	if len(n.kinds) != len(owners) {
		t.Errorf("notifications = %d, want %d", len(n.kinds), len(owners))
	}

	noMail := DefaultTable(conv, nil)
	if got := len(noMail[TicketCreate]); got != 1 {
		t.Errorf("bindings without notifier = %d, want 1", got)
	}
}

func bindingNames(bs []Binding) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Name
	}
	return out
}
