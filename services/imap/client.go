package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/tracing"
)

type connection struct {
	c           *client.Client
	accountUUID string
	caps        map[string]bool
	broken      atomic.Bool
}

// connect establishes an authenticated IMAP connection for the backend's settings
func (b *Backend) connect(ctx context.Context) (*connection, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.connect")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	span.SetTag("server", b.settings.Host)
	span.SetTag("port", b.settings.Port)
	span.SetTag("security", b.settings.ConnectionSecurity.String())

	serverAddr := b.settings.Address()

	dialer := &net.Dialer{
		Timeout:   b.cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	tlsConfig, err := b.tlsConfig()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var c *client.Client
	if b.settings.ConnectionSecurity == enum.ConnectionSecuritySSL {
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, mailerrors.NewMessagingError(fmt.Sprintf("failed to connect to %s", serverAddr), err)
	}

	c.Timeout = b.cfg.ConnectTimeout

	if b.settings.ConnectionSecurity == enum.ConnectionSecurityStartTLS {
		supported, err := c.SupportStartTLS()
		if err != nil || !supported {
			c.Terminate()
			err = mailerrors.NewPermanentMessagingError(fmt.Sprintf("%s does not support STARTTLS", serverAddr), err)
			tracing.TraceErr(span, err)
			return nil, err
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Terminate()
			tracing.TraceErr(span, err)
			return nil, mailerrors.NewMessagingError("STARTTLS failed", err)
		}
	}

	loginSpan := opentracing.StartSpan(
		"IMAPBackend.login",
		opentracing.ChildOf(span.Context()),
	)
	loginSpan.SetTag("username", b.settings.Username)
	loginSpan.SetTag("auth", b.settings.AuthenticationType.String())

	if err := b.authenticate(c); err != nil {
		c.Logout()
		tracing.TraceErr(loginSpan, err)
		loginSpan.Finish()
		return nil, err
	}
	loginSpan.Finish()

	caps, err := c.Capability()
	if err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return nil, mailerrors.NewMessagingError("failed to get capabilities", err)
	}

	b.log.Debugf("[%s] Server capabilities: %v", b.accountUUID, caps)
	span.SetTag("server.capabilities", fmt.Sprintf("%v", caps))

	c.Timeout = b.cfg.CommandTimeout

	b.log.Infof("[%s] Connected and logged in to %s", b.accountUUID, serverAddr)
	return &connection{c: c, accountUUID: b.accountUUID, caps: caps}, nil
}

func (b *Backend) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		ServerName:         b.settings.Host,
		InsecureSkipVerify: b.cfg.InsecureSkipVerify,
	}
	if alias := b.settings.ClientCertificateAlias; alias != "" {
		cert, ok := b.cfg.ClientCertificates[alias]
		if !ok {
			return nil, mailerrors.NewPermanentMessagingError(fmt.Sprintf("unknown client certificate %q", alias), nil)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func (b *Backend) authenticate(c *client.Client) error {
	s := b.settings

	var err error
	switch s.AuthenticationType {
	case enum.AuthTypeNone:
		return nil
	case enum.AuthTypeXOAuth2:
		err = c.Authenticate(newXOAuth2Client(s.Username, s.Password))
	case enum.AuthTypeCramMD5:
		err = c.Authenticate(newCramMD5Client(s.Username, s.Password))
	case enum.AuthTypeExternal:
		err = c.Authenticate(sasl.NewExternalClient(""))
	default:
		if ok, _ := c.SupportAuth(sasl.Plain); ok {
			err = c.Authenticate(sasl.NewPlainClient("", s.Username, s.Password))
		} else {
			err = c.Login(s.Username, s.Password)
		}
	}
	if err != nil {
		return &mailerrors.AuthenticationFailedError{Username: s.Username, Cause: err}
	}
	return nil
}

// withConnection runs fn on the cached connection, reconnecting when the cached one is
// gone. Cancelling ctx terminates the connection so that fn returns promptly.
func (b *Backend) withConnection(ctx context.Context, fn func(cn *connection) error) error {
	b.connMutex.Lock()
	defer b.connMutex.Unlock()

	if ctx.Err() != nil {
		return mailerrors.NewMessagingError("operation cancelled", ctx.Err())
	}

	cn := b.conn
	if cn != nil && !cn.healthy() {
		b.log.Infof("[%s] Existing connection is broken, reconnecting", b.accountUUID)
		cn.terminate()
		cn = nil
		b.conn = nil
	}
	if cn == nil {
		var err error
		cn, err = b.connect(ctx)
		if err != nil {
			return err
		}
		b.conn = cn
	}

	stop := cn.watch(ctx)
	err := fn(cn)
	stop()

	if cn.broken.Load() || cn.c.State() == imap.LogoutState {
		cn.terminate()
		b.conn = nil
	}
	if err != nil && ctx.Err() != nil {
		return mailerrors.NewMessagingError("operation cancelled", ctx.Err())
	}
	return err
}

// watch terminates the connection when ctx is done before the returned stop is called
func (cn *connection) watch(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cn.broken.Store(true)
			cn.c.Terminate()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (cn *connection) healthy() bool {
	if cn.broken.Load() || cn.c.State() == imap.LogoutState {
		return false
	}
	return cn.c.Noop() == nil
}

func (cn *connection) supports(capability string) bool {
	return cn.caps[capability]
}

// open selects folder read-write unless it is already selected that way
func (cn *connection) open(folder string) (*imap.MailboxStatus, error) {
	if mbox := cn.c.Mailbox(); mbox != nil && mbox.Name == folder && !mbox.ReadOnly {
		return mbox, nil
	}
	status, err := cn.c.Select(folder, false)
	if err != nil {
		return nil, mailerrors.NewMessagingError(fmt.Sprintf("failed to select %s", folder), err)
	}
	return status, nil
}

func (cn *connection) terminate() {
	cn.broken.Store(true)
	_ = cn.c.Terminate()
}

// logout closes the connection gracefully, giving up after five seconds
func (cn *connection) logout() {
	cn.c.Timeout = 5 * time.Second
	done := make(chan error, 1)
	go func() {
		done <- cn.c.Logout()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cn.c.Terminate()
	}
}

// CheckIncomingServerSettings connects and authenticates once without caching the connection
func (b *Backend) CheckIncomingServerSettings(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.CheckIncomingServerSettings")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())

	cn, err := b.connect(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	cn.logout()
	return nil
}
