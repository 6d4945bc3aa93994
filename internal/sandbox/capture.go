package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"

	"github.com/foxzi/chainmail/internal/mailer"
)

// Transport stores messages instead of delivering them
type Transport struct {
	storage *Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewTransport creates a capture transport
func NewTransport(storage *Storage, logger *slog.Logger) *Transport {
	return &Transport{
		storage: storage,
		logger:  logger.With("component", "sandbox"),
		now:     time.Now,
	}
}

// Verify checks the capture store is usable
func (t *Transport) Verify(ctx context.Context) error {
	return t.storage.Ping(ctx)
}

// Send builds msg and stores it
func (t *Transport) Send(ctx context.Context, msg *mailer.Message) error {
	now := t.now()
	data, err := mailer.Build(msg, now)
	if err != nil {
		return &mailer.DeliveryError{Temporary: false, Message: err.Error()}
	}

	captured := newMessage(data, now)
	captured.From = mailer.Address(msg.From)
	captured.To = []string{mailer.Address(msg.To)}
	captured.Source = SourceTransport

	if err := t.storage.Save(ctx, captured); err != nil {
		return fmt.Errorf("sandbox: failed to save message: %w", err)
	}

	t.logger.Info("message captured",
		"id", captured.ID,
		"to", captured.To,
		"wave", captured.Wave,
		"position", captured.Position,
	)
	return nil
}

// newMessage reads the subject and campaign headers of raw message data
func newMessage(data []byte, capturedAt time.Time) *Message {
	msg := &Message{
		ID:         uuid.New().String(),
		Data:       data,
		CapturedAt: capturedAt,
	}

	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return msg
	}
	h := mail.Header{Header: message.Header{Header: th}}

	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = h.Get("Subject")
	}
	msg.Wave, _ = strconv.Atoi(h.Get(mailer.HeaderWave))
	msg.Position, _ = strconv.Atoi(h.Get(mailer.HeaderRecipient))
	msg.TrackingCode = h.Get(mailer.HeaderTracking)

	return msg
}

// Body returns the first inline part of the captured message with the given
// content type, e.g. "text/html". ok is false when there is none.
func (m *Message) Body(contentType string) (body string, ok bool, err error) {
	mr, err := mail.CreateReader(bytes.NewReader(m.Data))
	if err != nil && !message.IsUnknownCharset(err) {
		return "", false, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", false, fmt.Errorf("failed to read part: %w", err)
		}

		h, isInline := p.Header.(*mail.InlineHeader)
		if !isInline {
			continue
		}
		t, _, _ := h.ContentType()
		if t != contentType {
			continue
		}

		data, err := io.ReadAll(p.Body)
		if err != nil {
			return "", false, fmt.Errorf("failed to read part body: %w", err)
		}
		return string(data), true, nil
	}
}
