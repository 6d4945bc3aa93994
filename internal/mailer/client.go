package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// Client delivers messages through one authenticated relay. Every Send opens
// its own connection.
type Client struct {
	settings  *Settings
	signer    *Signer
	tlsConfig *tls.Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewClient creates a relay client
func NewClient(settings *Settings, logger *slog.Logger) *Client {
	if settings.Timeout == 0 {
		settings.Timeout = 30 * time.Second
	}
	return &Client{
		settings: settings,
		tlsConfig: &tls.Config{
			ServerName: settings.Host,
			MinVersion: tls.VersionTLS12,
		},
		logger: logger.With("component", "mailer"),
		now:    time.Now,
	}
}

// SetSigner enables DKIM signing for senders in the signer's domain
func (c *Client) SetSigner(s *Signer) {
	c.signer = s
}

// SetTLSConfig overrides the TLS configuration used for STARTTLS and implicit TLS
func (c *Client) SetTLSConfig(cfg *tls.Config) {
	c.tlsConfig = cfg
}

// Verify connects, greets, negotiates TLS and authenticates, then quits
func (c *Client) Verify(ctx context.Context) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Quit(); err != nil {
		return c.categorizeError(err, "QUIT")
	}
	c.logger.Debug("relay verified", "addr", c.settings.Addr())
	return nil
}

// Send builds, signs and delivers one message
func (c *Client) Send(ctx context.Context, msg *Message) error {
	data, err := Build(msg, c.now())
	if err != nil {
		return &DeliveryError{Temporary: false, Message: err.Error()}
	}

	if c.signer.Matches(msg.From) {
		signed, err := c.signer.Sign(data)
		if err != nil {
			c.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", c.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	from := Address(msg.From)
	to := Address(msg.To)

	if err := client.Mail(from, nil); err != nil {
		return c.categorizeError(err, "MAIL FROM")
	}
	if err := client.Rcpt(to, nil); err != nil {
		return c.categorizeError(err, fmt.Sprintf("RCPT TO %s", to))
	}

	wc, err := client.Data()
	if err != nil {
		return c.categorizeError(err, "DATA")
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return c.categorizeError(err, "DATA close")
	}

	client.Quit()

	c.logger.Debug("message delivered", "from", from, "to", to)
	return nil
}

// connect dials the relay and runs the session up to AUTH. Without implicit
// TLS, STARTTLS is used whenever the relay offers it.
func (c *Client) connect(ctx context.Context) (*smtp.Client, error) {
	addr := c.settings.Addr()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	client := smtp.NewClient(conn)

	if err := client.Hello(c.settings.HeloName); err != nil {
		client.Close()
		return nil, c.categorizeError(err, "EHLO")
	}

	if !c.settings.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			client.Close()
			if client, err = c.startTLS(ctx); err != nil {
				return nil, err
			}
		}
	}

	if c.settings.User != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			client.Close()
			return nil, &DeliveryError{
				Temporary: false,
				Message:   fmt.Sprintf("%s does not offer AUTH", addr),
			}
		}
		auth := sasl.NewPlainClient("", c.settings.User, c.settings.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, c.categorizeError(err, "AUTH")
		}
	}

	return client, nil
}

// startTLS opens a fresh connection and upgrades it before the real EHLO
func (c *Client) startTLS(ctx context.Context) (*smtp.Client, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClientStartTLS(conn, c.tlsConfig)
	if err != nil {
		return nil, c.categorizeError(err, "STARTTLS")
	}
	// The upgrade resets the session, so the HELO name can still be set
	if err := client.Hello(c.settings.HeloName); err != nil {
		client.Close()
		return nil, c.categorizeError(err, "EHLO")
	}
	return client, nil
}

// dial connects to the relay, with implicit TLS when configured
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	addr := c.settings.Addr()

	var (
		conn net.Conn
		err  error
	)
	dialer := &net.Dialer{Timeout: c.settings.Timeout}
	if c.settings.Secure {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: c.tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", addr, err),
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.settings.Timeout)
	}
	conn.SetDeadline(deadline)

	return conn, nil
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// categorizeError determines if an SMTP error is temporary or permanent
func (c *Client) categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{Temporary: smtpErr.Code < 500, Message: msg}
	}

	if matches := smtpCodePattern.FindStringSubmatch(err.Error()); len(matches) > 1 {
		return &DeliveryError{Temporary: !strings.HasPrefix(matches[1], "5"), Message: msg}
	}

	// Assume temporary by default
	return &DeliveryError{Temporary: true, Message: msg}
}

// IsTemporaryError checks if the error is temporary
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}

// ErrorType labels err for metrics: temporary, permanent or unknown
func ErrorType(err error) string {
	var de *DeliveryError
	if !errors.As(err, &de) {
		return "unknown"
	}
	if de.Temporary {
		return "temporary"
	}
	return "permanent"
}
