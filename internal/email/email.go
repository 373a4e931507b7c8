// Package email sends outbound mail over SMTP: customer notifications
// for CRM events and engineering escalations from the diagnostic
// handler. Bodies are markdown and go out as text/plain plus text/html.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotConfigured is returned by Deliver when no SMTP server is set up.
var ErrNotConfigured = errors.New("smtp not configured")

// sendTimeout bounds one complete SMTP transaction.
const sendTimeout = time.Minute

// Message is one outbound notification or escalation.
type Message struct {
	To      []string
	Subject string
	Body    string // markdown

	// Event names what triggered the mail: a CRM event kind such as
	// "ticket create", or "escalation". It is sent as X-Switchboard-Event.
	Event string

	// Ref identifies the record the mail is about, such as a ticket id.
	// Together with Event it fixes the Message-ID, so a redelivered
	// event produces a message mail clients can recognise as a repeat.
	Ref string
}

// transport delivers a composed message to the envelope recipients.
// Sender.deliver in production.
type transport func(ctx context.Context, from string, recipients []string, msg []byte) error

// Sender composes and delivers messages from a single configured
// account. It is safe for concurrent use; every Deliver opens its own
// connection.
type Sender struct {
	cfg       Config
	logger    *slog.Logger
	tlsConfig *tls.Config // base TLS settings; nil uses system roots
	send      transport
}

// NewSender creates a Sender. cfg should already have defaults applied.
func NewSender(cfg Config, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sender{cfg: cfg, logger: logger}
	s.send = s.deliver
	return s
}

// Deliver composes and sends m. The configured owner address, if any,
// gets a blind copy unless already addressed.
func (s *Sender) Deliver(ctx context.Context, m Message) error {
	if !s.cfg.Configured() {
		return ErrNotConfigured
	}
	if len(m.To) == 0 {
		return errors.New("no recipients")
	}

	env, err := newEnvelope(s.cfg.From, m.To, s.cfg.BccOwner)
	if err != nil {
		return err
	}

	raw, err := compose(s.cfg.From, m, time.Now())
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := s.send(ctx, env.from, env.recipients, raw); err != nil {
		return fmt.Errorf("send to %v: %w", m.To, err)
	}

	s.logger.Info("email sent",
		"to", m.To,
		"subject", m.Subject,
		"event", m.Event,
		"ref", m.Ref,
		"bytes", len(raw),
	)
	return nil
}
