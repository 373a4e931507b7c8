package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/nugget/switchboard/internal/dispatch"
	"github.com/nugget/switchboard/internal/email"
)

type sentMail struct {
	to      []string
	subject string
	body    string
	event   string
	ref     string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (f *fakeMailer) Deliver(_ context.Context, m email.Message) error {
	f.sent = append(f.sent, sentMail{to: m.To, subject: m.Subject, body: m.Body, event: m.Event, ref: m.Ref})
	return f.err
}

func testNotifier(m Mailer) *Notifier {
	return New(m, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func ticketPayload() map[string]any {
	return map[string]any{
		"customer_email":       "jane@example.com",
		"customer_name":        "Jane",
		"ticket_id":            "42",
		"ticket_title":         "VPN down",
		"ticket_status":        "OPEN",
		"ticket_priority":      "High",
		"ticket_category":      "Network",
		"ticket_description":   "Cannot connect",
		"ticket_creation_date": "2025-01-10",
	}
}

func TestRender_Template(t *testing.T) {
	n := testNotifier(&fakeMailer{})

	subject, body, usedDefault := n.Render(dispatch.Event{Kind: dispatch.TicketCreate, Payload: ticketPayload()})
	if usedDefault {
		t.Fatal("complete payload fell back to default template")
	}
	if subject != "New Ticket Created: #VPN down" {
		t.Errorf("subject = %q", subject)
	}
	for _, want := range []string{"Hello Jane,", "- **ID:** 42", "- **Priority:** High"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestRender_NumericPayload(t *testing.T) {
	n := testNotifier(&fakeMailer{})
	p := map[string]any{
		"customer_name":             "Acme",
		"opportunity_name":          "Fleet renewal",
		"opportunity_id":            float64(7),
		"opportunity_commercial":    "Bob",
		"opportunity_amount":        float64(12000),
		"opportunity_priority":      "High",
		"status":                    "PROPOSITION",
		"opportunity_notes":         "",
		"opportunity_creation_date": "2025-01-10",
	}
	_, body, usedDefault := n.Render(dispatch.Event{Kind: dispatch.OpportunityCreate, Payload: p})
	if usedDefault {
		t.Fatal("fell back to default template")
	}
	if !strings.Contains(body, "- **Estimated Amount:** 12000") {
		t.Errorf("body = %s", body)
	}
}

func TestRender_MissingKeyFallsBack(t *testing.T) {
	n := testNotifier(&fakeMailer{})

	p := ticketPayload()
	delete(p, "ticket_priority")
	subject, body, usedDefault := n.Render(dispatch.Event{Kind: dispatch.TicketCreate, Payload: p})
	if !usedDefault {
		t.Fatal("missing key did not fall back")
	}
	if subject != DefaultTemplate.Subject {
		t.Errorf("subject = %q, want default", subject)
	}
	if !strings.HasPrefix(body, "Hello Jane,") {
		t.Errorf("body = %q", body)
	}
}

func TestRender_DefaultCustomerName(t *testing.T) {
	n := testNotifier(&fakeMailer{})

	_, body, usedDefault := n.Render(dispatch.Event{Kind: dispatch.CustomerUpdate, Payload: map[string]any{}})
	if !usedDefault {
		t.Error("customer_update has no template and should use the default")
	}
	if !strings.HasPrefix(body, "Hello customer,") {
		t.Errorf("body = %q", body)
	}
}

func TestAllTemplatesRender(t *testing.T) {
	n := testNotifier(&fakeMailer{})
	for kind, tpl := range Templates {
		// Every referenced field present yields the specific template.
		p := map[string]any{}
		for _, src := range []string{tpl.Subject, tpl.Body} {
			for _, f := range strings.Split(src, "{{.")[1:] {
				p[f[:strings.Index(f, "}}")]] = "x"
			}
		}
		if _, _, usedDefault := n.Render(dispatch.Event{Kind: kind, Payload: p}); usedDefault {
			t.Errorf("%s: template did not render with all fields present", kind)
		}
	}
}

func TestNotify(t *testing.T) {
	m := &fakeMailer{}
	n := testNotifier(m)

	err := n.Notify(context.Background(), dispatch.Event{Kind: dispatch.TicketCreate, Payload: ticketPayload()})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(m.sent) != 1 || m.sent[0].to[0] != "jane@example.com" {
		t.Fatalf("sent = %+v", m.sent)
	}
	if m.sent[0].subject != "New Ticket Created: #VPN down" {
		t.Errorf("subject = %q", m.sent[0].subject)
	}
	if m.sent[0].event != "ticket create" || m.sent[0].ref != "42" {
		t.Errorf("tagged event=%q ref=%q, want ticket create/42", m.sent[0].event, m.sent[0].ref)
	}
}

func TestEventRef(t *testing.T) {
	tests := []struct {
		payload map[string]any
		want    string
	}{
		{map[string]any{"ticket_id": "42", "customer_id": "c1"}, "42"},
		{map[string]any{"opportunity_id": float64(7)}, "7"},
		{map[string]any{"customer_id": "c1"}, "c1"},
		{map[string]any{"customer_name": "Jane"}, ""},
	}
	for _, tt := range tests {
		if got := eventRef(dispatch.Event{Kind: dispatch.TicketCreate, Payload: tt.payload}); got != tt.want {
			t.Errorf("eventRef(%v) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

func TestNotify_EmailFallbackKey(t *testing.T) {
	m := &fakeMailer{}
	n := testNotifier(m)

	err := n.Notify(context.Background(), dispatch.Event{Kind: dispatch.CustomerUpdate, Payload: map[string]any{"email": "bob@example.com"}})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(m.sent) != 1 || m.sent[0].to[0] != "bob@example.com" {
		t.Errorf("sent = %+v", m.sent)
	}
}

func TestNotify_NoRecipient(t *testing.T) {
	var logs bytes.Buffer
	m := &fakeMailer{}
	n := New(m, slog.New(slog.NewTextHandler(&logs, nil)), nil)

	err := n.Notify(context.Background(), dispatch.Event{Kind: dispatch.TicketClose, Payload: map[string]any{"customer_name": "Jane"}})
	if err != nil {
		t.Errorf("Notify() error = %v, want nil", err)
	}
	if len(m.sent) != 0 {
		t.Errorf("sent %d messages without a recipient", len(m.sent))
	}
	if !strings.Contains(logs.String(), "no recipient for notification") {
		t.Errorf("expected warning, logs:\n%s", logs.String())
	}
}

func TestNotify_MailerError(t *testing.T) {
	boom := errors.New("smtp down")
	n := testNotifier(&fakeMailer{err: boom})

	err := n.Notify(context.Background(), dispatch.Event{Kind: dispatch.TicketCreate, Payload: ticketPayload()})
	if !errors.Is(err, boom) {
		t.Errorf("Notify() error = %v, want %v", err, boom)
	}
}
