package mailer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Campaign headers set on every dispatched message
const (
	HeaderWave      = "X-Chainmail-Wave"
	HeaderRecipient = "X-Chainmail-Recipient"
	HeaderTracking  = "X-Chainmail-Tracking"
	HeaderNoReply   = "X-No-Reply"
)

// Message is one outbound mail
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// Build renders msg as an RFC 5322 message. Both bodies produce a
// multipart/alternative message, a single body a single-part one.
func Build(msg *Message, now time.Time) ([]byte, error) {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", msg.From, err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", msg.To, err)
	}
	if msg.HTML == "" && msg.Text == "" {
		return nil, fmt.Errorf("message has no body")
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(msg.Subject)
	h.SetMessageID(fmt.Sprintf("%s@%s", uuid.New().String(), Domain(from.Address)))
	for k, v := range msg.Headers {
		h.Set(k, v)
	}

	var buf bytes.Buffer

	if msg.HTML != "" && msg.Text != "" {
		w, err := mail.CreateInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("failed to create message writer: %w", err)
		}
		if err := writePart(w, "text/plain", msg.Text); err != nil {
			return nil, err
		}
		if err := writePart(w, "text/html", msg.HTML); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close message writer: %w", err)
		}
		return buf.Bytes(), nil
	}

	contentType, body := "text/html", msg.HTML
	if body == "" {
		contentType, body = "text/plain", msg.Text
	}
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(w *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	pw, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return pw.Close()
}

// Address returns the bare address of a header value such as "Name <a@b.c>"
func Address(s string) string {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return addr.Address
}

// Domain returns the lower-cased domain of an address, or "" when there is none
func Domain(address string) string {
	address = Address(address)
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
