package email

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"
)

// Header names stamped on every outbound message.
const (
	headerEvent = "X-Switchboard-Event"
	headerRef   = "X-Switchboard-Ref"
)

// compose builds the RFC 5322 message for m. The markdown body becomes a
// multipart/alternative with text/plain and text/html parts. Blind
// copies live only in the SMTP envelope and never appear here.
func compose(from string, m Message, now time.Time) ([]byte, error) {
	h, err := header(from, m, now)
	if err != nil {
		return nil, err
	}

	html, err := markdownToHTML(m.Body)
	if err != nil {
		return nil, fmt.Errorf("render markdown to HTML: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	alt, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}
	if err := writePart(alt, "text/plain", markdownToPlain(m.Body)); err != nil {
		return nil, err
	}
	if err := writePart(alt, "text/html", html); err != nil {
		return nil, err
	}
	if err := alt.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func header(from string, m Message, now time.Time) (mail.Header, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(m.Subject)

	sender, err := mail.ParseAddress(from)
	if err != nil {
		return h, fmt.Errorf("parse from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{sender})

	to, err := parseAddressList(m.To)
	if err != nil {
		return h, fmt.Errorf("parse to addresses: %w", err)
	}
	h.SetAddressList("To", to)

	if m.Event != "" {
		h.Set(headerEvent, m.Event)
	}
	if m.Ref != "" {
		h.Set(headerRef, m.Ref)
	}

	if id := messageID(m.Event, m.Ref, senderDomain(from)); id != "" {
		h.SetMessageID(id)
	} else if err := h.GenerateMessageID(); err != nil {
		return h, fmt.Errorf("generate message-id: %w", err)
	}
	return h, nil
}

// messageID derives a stable id from the event and record it concerns.
// It returns "" when there is nothing stable to key on.
func messageID(event, ref, domain string) string {
	if event == "" || ref == "" || domain == "" {
		return ""
	}
	return idToken(event) + "." + idToken(ref) + "@" + domain
}

var idUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// idToken reduces s to characters safe in a Message-ID local part.
func idToken(s string) string {
	return strings.Trim(idUnsafe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func writePart(w *mail.InlineWriter, contentType, content string) error {
	var ph mail.InlineHeader
	ph.Set("Content-Type", contentType+"; charset=utf-8")
	pw, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, content); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}

// parseAddressList parses "Name <addr>" or bare "addr" strings.
func parseAddressList(addrs []string) ([]*mail.Address, error) {
	result := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		result = append(result, parsed)
	}
	return result, nil
}

const htmlEnvelope = `<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`

// markdownToHTML renders md as a standalone HTML document with no
// external resources.
func markdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return fmt.Sprintf(htmlEnvelope, buf.String()), nil
}

var (
	mdBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalic     = regexp.MustCompile(`\*(.+?)\*`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdCodeBlock  = regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```")
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
)

// markdownToPlain strips markdown markup for the text/plain part. List
// markers and paragraph breaks survive; link targets follow their text.
func markdownToPlain(md string) string {
	s := mdCodeBlock.ReplaceAllString(md, "$1")
	for _, r := range []struct {
		re   *regexp.Regexp
		repl string
	}{
		{mdImage, "$1"},
		{mdLink, "$1 ($2)"},
		{mdBold, "$1"},
		{mdItalic, "$1"},
		{mdInlineCode, "$1"},
		{mdHeading, ""},
	} {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return strings.TrimSpace(s)
}
