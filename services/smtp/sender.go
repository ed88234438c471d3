package smtp

import (
	"context"
	"crypto/tls"
	"net"
	"net/smtp"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
	"github.com/customeros/mailbackend/services/backend"
)

const (
	DEFAULT_CONNECT_TIMEOUT = 30 * time.Second
	DEFAULT_SEND_TIMEOUT    = 2 * time.Minute
	DEFAULT_HELO_NAME       = "localhost"
)

type Config struct {
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	HeloName       string
	// InsecureSkipVerify is only meant for tests against self-signed servers
	InsecureSkipVerify bool
	ClientCertificates map[string]tls.Certificate
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DEFAULT_CONNECT_TIMEOUT
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DEFAULT_SEND_TIMEOUT
	}
	if c.HeloName == "" {
		c.HeloName = DEFAULT_HELO_NAME
	}
	return c
}

// Sender delivers outgoing messages of one account through its outgoing server
type Sender struct {
	accountUUID string
	settings    models.ServerSettings
	cfg         Config
	log         logger.Logger
}

func NewSender(account *models.Account, cfg Config, log logger.Logger) *Sender {
	return &Sender{
		accountUUID: account.UUID,
		settings:    account.Outgoing,
		cfg:         cfg.withDefaults(),
		log:         log,
	}
}

// Send validates the envelope, assigns a Message-ID when the message has none and
// hands the rendered message to the server.
func (s *Sender) Send(ctx context.Context, message *models.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SMTPSender.Send")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeSMTP.String())
	tracing.TagAccount(span, s.accountUUID)

	env, err := newEnvelope(message)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if message.MessageID == "" {
		message.MessageID = utils.GenerateMessageID(env.domain, s.accountUUID)
	}
	span.LogKV("messageId", message.MessageID)

	data, err := render(message)
	if err != nil {
		tracing.TraceErr(span, err)
		return mailerrors.NewPermanentMessagingError("failed to render message", err)
	}

	err = s.withClient(ctx, s.cfg.SendTimeout, func(c *smtp.Client) error {
		return deliver(c, env, data)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.log.Infof("[%s] sent message %s to %d recipients", s.accountUUID, message.MessageID, len(env.recipients))
	return nil
}

// CheckSettings connects and authenticates without sending anything
func (s *Sender) CheckSettings(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SMTPSender.CheckSettings")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeSMTP.String())
	tracing.TagAccount(span, s.accountUUID)

	err := s.withClient(ctx, s.cfg.ConnectTimeout, func(c *smtp.Client) error {
		return c.Noop()
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// withClient runs fn on a connected, authenticated client and quits afterwards.
// Cancelling ctx closes the underlying connection.
func (s *Sender) withClient(ctx context.Context, timeout time.Duration, fn func(c *smtp.Client) error) error {
	if err := ctx.Err(); err != nil {
		return mailerrors.NewMessagingError("operation cancelled", err)
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	c, err := smtp.NewClient(conn, s.settings.Host)
	if err != nil {
		return s.wrap(ctx, err, "failed to create SMTP client")
	}
	defer c.Close()

	if err = c.Hello(s.cfg.HeloName); err != nil {
		return s.wrap(ctx, err, "SMTP EHLO failed")
	}

	if s.settings.ConnectionSecurity == enum.ConnectionSecurityStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return mailerrors.NewPermanentMessagingError("server does not support STARTTLS", nil)
		}
		tlsConfig, err := s.tlsConfig()
		if err != nil {
			return err
		}
		if err = c.StartTLS(tlsConfig); err != nil {
			return s.wrap(ctx, err, "failed to start TLS")
		}
	}

	if err = s.authenticate(c); err != nil {
		if ctx.Err() != nil {
			return mailerrors.NewMessagingError("operation cancelled", ctx.Err())
		}
		return err
	}

	if err = fn(c); err != nil {
		return s.wrap(ctx, err, "SMTP transaction failed")
	}

	if err = c.Quit(); err != nil {
		s.log.Warnf("[%s] SMTP QUIT failed: %v", s.accountUUID, err)
	}
	return nil
}

func (s *Sender) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.cfg.ConnectTimeout}

	if s.settings.ConnectionSecurity != enum.ConnectionSecuritySSL {
		conn, err := dialer.DialContext(ctx, "tcp", s.settings.Address())
		if err != nil {
			return nil, mailerrors.NewMessagingError("failed to connect to SMTP server", errors.WithStack(err))
		}
		return conn, nil
	}

	tlsConfig, err := s.tlsConfig()
	if err != nil {
		return nil, err
	}
	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
	conn, err := tlsDialer.DialContext(ctx, "tcp", s.settings.Address())
	if err != nil {
		return nil, mailerrors.NewMessagingError("failed to connect to SMTP server", errors.WithStack(err))
	}
	return conn, nil
}

func (s *Sender) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		ServerName:         s.settings.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}
	if alias := s.settings.ClientCertificateAlias; alias != "" {
		cert, ok := s.cfg.ClientCertificates[alias]
		if !ok {
			return nil, mailerrors.NewPermanentMessagingError("unknown client certificate alias "+alias, nil)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func (s *Sender) wrap(ctx context.Context, err error, message string) error {
	if ctx.Err() != nil {
		return mailerrors.NewMessagingError("operation cancelled", ctx.Err())
	}
	return mailerrors.Wrap(err, message)
}

// deliver runs one MAIL/RCPT/DATA transaction
func deliver(c *smtp.Client, env *envelope, data []byte) error {
	if err := c.Mail(env.from); err != nil {
		return errors.Wrap(err, "SMTP MAIL command failed")
	}
	for _, recipient := range env.recipients {
		if err := c.Rcpt(recipient); err != nil {
			return errors.Wrapf(err, "SMTP RCPT command failed for %s", recipient)
		}
	}

	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "SMTP DATA command failed")
	}
	if _, err = w.Write(data); err != nil {
		return errors.Wrap(err, "failed to write message data")
	}
	if err = w.Close(); err != nil {
		return errors.Wrap(err, "failed to close data writer")
	}
	return nil
}

// SenderFactory builds senders from the outgoing settings of accounts
type SenderFactory struct {
	cfg Config
	log logger.Logger
}

func NewSenderFactory(cfg Config, log logger.Logger) *SenderFactory {
	return &SenderFactory{cfg: cfg, log: log}
}

func (f *SenderFactory) CreateSender(account *models.Account) interfaces.MessageSender {
	return NewSender(account, f.cfg, f.log)
}

// Registration makes smtp transport uris decodable by the backend manager
func Registration() backend.Registration {
	return backend.Registration{Type: enum.ServerTypeSMTP, Codec: StoreURICodec{}, Prefixes: []string{"smtp"}}
}

// StoreURICodec handles smtp[+tls+|+ssl+]://AUTH:user:secret@host:port
type StoreURICodec struct{}

var smtpPorts = utils.DefaultPorts{Plain: 587, SSL: 465}

func (StoreURICodec) DecodeStoreURI(uri string) (models.ServerSettings, error) {
	return utils.DecodeStoreURI("smtp", enum.ServerTypeSMTP, smtpPorts, uri)
}

func (StoreURICodec) CreateStoreURI(settings models.ServerSettings) (string, error) {
	return utils.EncodeStoreURI("smtp", settings)
}
