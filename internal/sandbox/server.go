package sandbox

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ServerOptions configures the capture server
type ServerOptions struct {
	Addr   string
	Domain string
	// Users maps usernames to passwords. When empty any credentials are accepted.
	Users           map[string]string
	MaxMessageBytes int64
	// TLSConfig enables STARTTLS when set
	TLSConfig *tls.Config
}

// Server is a local SMTP listener that stores everything it receives
type Server struct {
	server  *smtp.Server
	backend *backend
	addr    string
	logger  *slog.Logger
}

// NewServer creates a capture server
func NewServer(opts ServerOptions, storage *Storage, logger *slog.Logger) *Server {
	logger = logger.With("component", "sandbox-smtp")
	be := &backend{
		storage: storage,
		users:   opts.Users,
		logger:  logger,
		now:     time.Now,
	}

	srv := smtp.NewServer(be)
	srv.Addr = opts.Addr
	srv.Domain = opts.Domain
	if srv.Domain == "" {
		srv.Domain = "localhost"
	}
	srv.MaxMessageBytes = opts.MaxMessageBytes
	if srv.MaxMessageBytes == 0 {
		srv.MaxMessageBytes = 10 * 1024 * 1024
	}
	srv.TLSConfig = opts.TLSConfig
	srv.MaxRecipients = 50
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 60 * time.Second
	// Plaintext AUTH is allowed only on a listener without TLS
	srv.AllowInsecureAuth = opts.TLSConfig == nil

	return &Server{
		server:  srv,
		backend: be,
		addr:    opts.Addr,
		logger:  logger,
	}
}

// ListenAndServe listens on the configured address
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting sandbox SMTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Serve accepts connections on l
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting sandbox SMTP server", "addr", l.Addr().String())
	return s.server.Serve(l)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down sandbox SMTP server")
	return s.server.Shutdown(ctx)
}

// Close immediately closes the server
func (s *Server) Close() error {
	return s.server.Close()
}

// backend implements smtp.Backend
type backend struct {
	storage *Storage
	users   map[string]string
	logger  *slog.Logger
	now     func() time.Time
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{
		backend:  b,
		clientIP: c.Conn().RemoteAddr().String(),
		logger:   b.logger.With("remote_addr", c.Conn().RemoteAddr().String()),
	}, nil
}

// session implements smtp.Session and smtp.AuthSession
type session struct {
	backend  *backend
	clientIP string
	from     string
	to       []string
	authUser string
	logger   *slog.Logger
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}

	return sasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			return errors.New("identity must be empty or match username")
		}

		if len(s.backend.users) > 0 {
			expected, ok := s.backend.users[username]
			if !ok || expected != password {
				s.logger.Warn("authentication failed", "username", username)
				return smtp.ErrAuthFailed
			}
		}

		s.authUser = username
		s.logger.Debug("authentication successful", "username", username)
		return nil
	}), nil
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	if len(s.backend.users) > 0 && s.authUser == "" {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &smtp.SMTPError{
			Code:    442,
			Message: "Failed to read message data",
		}
	}

	msg := newMessage(data, s.backend.now())
	msg.From = s.from
	msg.To = append([]string(nil), s.to...)
	msg.Source = SourceSMTP
	msg.AuthUser = s.authUser
	msg.ClientIP = s.clientIP

	if err := s.backend.storage.Save(context.Background(), msg); err != nil {
		s.logger.Error("failed to store message", "error", err)
		return &smtp.SMTPError{
			Code:    451,
			Message: "Failed to store message",
		}
	}

	s.logger.Info("message captured",
		"id", msg.ID,
		"from", s.from,
		"to", s.to,
		"size", len(data),
	)
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}
