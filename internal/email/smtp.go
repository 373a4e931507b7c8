package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// dialTimeout caps connection setup when ctx has no earlier deadline.
const dialTimeout = 30 * time.Second

// envelope is the SMTP transaction addressing for one message: the bare
// MAIL FROM address and the deduplicated RCPT TO list.
type envelope struct {
	from       string
	recipients []string
}

// newEnvelope parses the sender and recipients. owner, when set and not
// already among to, is added as a blind copy.
func newEnvelope(from string, to []string, owner string) (envelope, error) {
	sender, err := mail.ParseAddress(from)
	if err != nil {
		return envelope{}, fmt.Errorf("parse from address %q: %w", from, err)
	}
	env := envelope{from: sender.Address}

	seen := make(map[string]bool, len(to)+1)
	for _, a := range to {
		addr, err := mail.ParseAddress(a)
		if err != nil {
			return envelope{}, fmt.Errorf("parse recipient %q: %w", a, err)
		}
		bare := strings.ToLower(addr.Address)
		if !seen[bare] {
			seen[bare] = true
			env.recipients = append(env.recipients, addr.Address)
		}
	}

	if owner != "" {
		addr, err := mail.ParseAddress(owner)
		if err != nil {
			return envelope{}, fmt.Errorf("parse bcc owner %q: %w", owner, err)
		}
		if !seen[strings.ToLower(addr.Address)] {
			env.recipients = append(env.recipients, addr.Address)
		}
	}
	return env, nil
}

// dial opens an SMTP session to the configured server. With StartTLS
// the connection starts in plain text and is upgraded after EHLO;
// otherwise TLS is negotiated on connect (port 465).
func (s *Sender) dial(ctx context.Context) (*smtp.Client, error) {
	host := s.cfg.SMTP.Host
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.SMTP.Port))

	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	nd := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if s.cfg.SMTP.StartTLS {
		conn, err = nd.DialContext(ctx, "tcp", addr)
	} else {
		td := &tls.Dialer{NetDialer: nd, Config: s.clientTLS()}
		conn, err = td.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial smtp %s: %w", addr, err)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp greeting from %s: %w", addr, err)
	}
	if err := c.Hello(s.heloName()); err != nil {
		c.Close()
		return nil, fmt.Errorf("EHLO: %w", err)
	}
	if s.cfg.SMTP.StartTLS {
		if err := c.StartTLS(s.clientTLS()); err != nil {
			c.Close()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
	}
	return c, nil
}

// deliver runs one complete SMTP transaction on a fresh connection.
func (s *Sender) deliver(ctx context.Context, from string, recipients []string, msg []byte) error {
	c, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if s.cfg.SMTP.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.SMTP.Username, s.cfg.SMTP.Password, s.cfg.SMTP.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end DATA: %w", err)
	}
	return c.Quit()
}

func (s *Sender) clientTLS() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.tlsConfig != nil {
		cfg = s.tlsConfig.Clone()
	}
	cfg.ServerName = s.cfg.SMTP.Host
	return cfg
}

// heloName identifies this client by the sending domain.
func (s *Sender) heloName() string {
	if d := senderDomain(s.cfg.From); d != "" {
		return d
	}
	return "localhost"
}

// senderDomain returns the domain part of the From address, or "".
func senderDomain(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return ""
	}
	if i := strings.LastIndexByte(addr.Address, '@'); i >= 0 {
		return addr.Address[i+1:]
	}
	return ""
}
