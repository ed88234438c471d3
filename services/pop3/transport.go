package pop3

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"github.com/knadh/go-pop3"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
)

// Conn is the subset of a POP3 session the backend uses
type Conn interface {
	Auth(user, password string) error
	Cmd(cmd string, isMulti bool, args ...interface{}) (*bytes.Buffer, error)
	Stat() (int, int, error)
	List(msgID int) ([]pop3.MessageID, error)
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
	Quit() error
}

// Dialer opens an unauthenticated session
type Dialer func(ctx context.Context, settings models.ServerSettings, cfg Config) (Conn, error)

func dial(ctx context.Context, settings models.ServerSettings, cfg Config) (Conn, error) {
	if settings.ConnectionSecurity == enum.ConnectionSecurityStartTLS {
		return nil, mailerrors.NewPermanentMessagingError("STARTTLS is not supported for POP3, use SSL/TLS", nil)
	}

	netDialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	if deadline, ok := ctx.Deadline(); ok {
		netDialer.Deadline = deadline
	}

	client := pop3.New(pop3.Opt{
		Host:          settings.Host,
		Port:          settings.Port,
		DialTimeout:   cfg.ConnectTimeout,
		Dialer:        netDialer,
		TLSEnabled:    settings.ConnectionSecurity == enum.ConnectionSecuritySSL,
		TLSSkipVerify: cfg.InsecureSkipVerify,
	})
	conn, err := client.NewConn()
	if err != nil {
		return nil, mailerrors.NewMessagingError(fmt.Sprintf("failed to connect to %s", settings.Address()), err)
	}
	return conn, nil
}


type session struct {
	conn Conn
}

// connect dials and authenticates. The caller must call quit.
func (b *Backend) connect(ctx context.Context) (*session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "POP3Backend.connect")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypePOP3.String())
	span.SetTag("server", b.settings.Host)
	span.SetTag("port", b.settings.Port)

	conn, err := b.dial(ctx, b.settings, b.cfg)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if err := authenticate(conn, b.settings); err != nil {
		_ = conn.Quit()
		tracing.TraceErr(span, err)
		return nil, err
	}

	b.log.Infof("[%s] Connected and logged in to %s", b.accountUUID, b.settings.Address())
	return &session{conn: conn}, nil
}

func authenticate(conn Conn, s models.ServerSettings) error {
	var err error
	switch s.AuthenticationType {
	case enum.AuthTypeNone:
		return nil
	case enum.AuthTypeXOAuth2:
		token := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", s.Username, s.Password)))
		_, err = conn.Cmd("AUTH", false, "XOAUTH2", token)
	case enum.AuthTypePlain, "":
		err = conn.Auth(s.Username, s.Password)
	default:
		return mailerrors.NewPermanentMessagingError(fmt.Sprintf("authentication type %s is not supported for POP3", s.AuthenticationType), nil)
	}
	if err != nil {
		return &mailerrors.AuthenticationFailedError{Username: s.Username, Cause: err}
	}
	return nil
}

func (s *session) quit() {
	_ = s.conn.Quit()
}

// remoteMessage pairs the session local message number with its stable UIDL
type remoteMessage struct {
	number int
	uid    string
	size   int64
}

// listMessages returns every message ordered by message number
func (s *session) listMessages() ([]remoteMessage, error) {
	uids, err := s.conn.Uidl(0)
	if err != nil {
		return nil, mailerrors.NewMessagingError("UIDL failed, the server must support UIDL", err)
	}
	sizes, err := s.conn.List(0)
	if err != nil {
		return nil, mailerrors.NewMessagingError("LIST failed", err)
	}
	sizeByNumber := make(map[int]int, len(sizes))
	for _, m := range sizes {
		sizeByNumber[m.ID] = m.Size
	}

	result := make([]remoteMessage, 0, len(uids))
	for _, m := range uids {
		if m.UID == "" {
			continue
		}
		result = append(result, remoteMessage{number: m.ID, uid: m.UID, size: int64(sizeByNumber[m.ID])})
	}
	return result, nil
}

func (s *session) find(uid string) (remoteMessage, bool, error) {
	messages, err := s.listMessages()
	if err != nil {
		return remoteMessage{}, false, err
	}
	for _, m := range messages {
		if m.uid == uid {
			return m, true, nil
		}
	}
	return remoteMessage{}, false, nil
}

func (s *session) headers(number int) ([]byte, error) {
	buf, err := s.conn.Cmd("TOP", true, number, 0)
	if err != nil {
		return nil, mailerrors.NewMessagingError(fmt.Sprintf("TOP %d failed", number), err)
	}
	return buf.Bytes(), nil
}

func (s *session) retrieve(number int) ([]byte, error) {
	buf, err := s.conn.RetrRaw(number)
	if err != nil {
		return nil, mailerrors.NewMessagingError(fmt.Sprintf("RETR %d failed", number), err)
	}
	return buf.Bytes(), nil
}
