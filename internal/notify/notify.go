// Package notify emails customers about CRM events. Each event kind has
// a markdown template filled from the event payload; payloads missing a
// field fall back to a generic notice.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/nugget/switchboard/internal/dispatch"
	"github.com/nugget/switchboard/internal/email"
	"github.com/nugget/switchboard/internal/events"
)

// Mailer delivers a tagged markdown message. *email.Sender satisfies it.
type Mailer interface {
	Deliver(ctx context.Context, m email.Message) error
}

// refKeys are the payload fields that identify the record an event is
// about, in order of preference.
var refKeys = []string{"ticket_id", "opportunity_id", "customer_id", "id"}

// eventRef returns the record id an event concerns, or "".
func eventRef(e dispatch.Event) string {
	for _, k := range refKeys {
		if v := e.String(k); v != "" {
			return v
		}
	}
	return ""
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Notifier renders and sends event notifications.
type Notifier struct {
	mailer    Mailer
	logger    *slog.Logger
	bus       *events.Bus
	templates map[dispatch.EventKind]compiled
	fallback  compiled
}

// New creates a notifier with the built-in templates. bus may be nil.
func New(mailer Mailer, logger *slog.Logger, bus *events.Bus) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		mailer:    mailer,
		logger:    logger,
		bus:       bus,
		templates: make(map[dispatch.EventKind]compiled, len(Templates)),
		fallback:  mustCompile("DEFAULT", DefaultTemplate),
	}
	for kind, t := range Templates {
		n.templates[kind] = mustCompile(string(kind), t)
	}
	return n
}

func mustCompile(name string, t Template) compiled {
	return compiled{
		subject: template.Must(template.New(name + " subject").Option("missingkey=error").Parse(t.Subject)),
		body:    template.Must(template.New(name + " body").Option("missingkey=error").Parse(t.Body)),
	}
}

// Render returns the subject and body for e. usedDefault reports that
// the generic notice was chosen, either because the kind has no
// template or because the payload lacks a field the template needs.
func (n *Notifier) Render(e dispatch.Event) (subject, body string, usedDefault bool) {
	if c, ok := n.templates[e.Kind]; ok {
		s, errS := execute(c.subject, e.Payload)
		b, errB := execute(c.body, e.Payload)
		if errS == nil && errB == nil {
			return s, b, false
		}
		n.logger.Warn("notification payload incomplete, using default template",
			"event_kind", e.Kind,
			"error", firstErr(errS, errB),
		)
	}

	name := e.String("customer_name")
	if name == "" {
		name = "customer"
	}
	data := map[string]any{"customer_name": name}
	s, _ := execute(n.fallback.subject, data)
	b, _ := execute(n.fallback.body, data)
	return s, b, true
}

// Notify emails the customer named in the payload (customer_email, else
// email). A payload without a recipient is logged and skipped.
func (n *Notifier) Notify(ctx context.Context, e dispatch.Event) error {
	to := e.String("customer_email")
	if to == "" {
		to = e.String("email")
	}
	if to == "" {
		n.logger.Warn("no recipient for notification", "event_kind", e.Kind)
		return nil
	}

	subject, body, usedDefault := n.Render(e)
	err := n.mailer.Deliver(ctx, email.Message{
		To:      []string{to},
		Subject: subject,
		Body:    body,
		Event:   string(e.Kind),
		Ref:     eventRef(e),
	})
	if err != nil {
		return fmt.Errorf("notify %s: %w", e.Kind, err)
	}

	n.logger.Info("notification sent",
		"event_kind", e.Kind,
		"to", to,
		"default_template", usedDefault,
	)
	n.bus.Emit(events.SourceNotify, events.KindNotificationSent, map[string]any{
		"event_kind":       string(e.Kind),
		"to":               to,
		"subject":          subject,
		"default_template": usedDefault,
	})
	return nil
}

func execute(t *template.Template, data map[string]any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
