package smtp

import (
	"context"
	"encoding/base64"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
)

const (
	testUsername = "sender@example.org"
	testPassword = "secret"
)

// fakeServer speaks just enough SMTP for net/smtp
type fakeServer struct {
	addr string

	mu    sync.Mutex
	state serverState
}

type serverState struct {
	sessions int
	auths    []string
	from     string
	rcpts    []string
	data     string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	s := &fakeServer{addr: l.Addr().String()}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	s.mu.Lock()
	s.state.sessions++
	s.mu.Unlock()

	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 fake ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			_ = tp.PrintfLine("250-fake")
			_ = tp.PrintfLine("250 AUTH PLAIN XOAUTH2")
		case "AUTH":
			parts := strings.Fields(line)
			s.mu.Lock()
			s.state.auths = append(s.state.auths, strings.Join(parts[1:], " "))
			s.mu.Unlock()
			if s.accepts(parts) {
				_ = tp.PrintfLine("235 2.7.0 authenticated")
			} else {
				_ = tp.PrintfLine("535 5.7.8 bad credentials")
			}
		case "*":
			_ = tp.PrintfLine("501 cancelled")
		case "MAIL":
			s.mu.Lock()
			s.state.from = between(line, "<", ">")
			s.mu.Unlock()
			_ = tp.PrintfLine("250 ok")
		case "RCPT":
			s.mu.Lock()
			s.state.rcpts = append(s.state.rcpts, between(line, "<", ">"))
			s.mu.Unlock()
			_ = tp.PrintfLine("250 ok")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.state.data = string(data)
			s.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "NOOP", "RSET":
			_ = tp.PrintfLine("250 ok")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
	}
}

func (s *fakeServer) accepts(parts []string) bool {
	if len(parts) < 3 {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	switch strings.ToUpper(parts[1]) {
	case "PLAIN":
		return string(decoded) == "\x00"+testUsername+"\x00"+testPassword
	case "XOAUTH2":
		return string(decoded) == "user="+testUsername+"\x01auth=Bearer "+testPassword+"\x01\x01"
	}
	return false
}

func (s *fakeServer) snapshot() serverState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	state.auths = append([]string(nil), s.state.auths...)
	state.rcpts = append([]string(nil), s.state.rcpts...)
	return state
}

func between(s, open, close string) string {
	start := strings.Index(s, open)
	end := strings.LastIndex(s, close)
	if start < 0 || end <= start {
		return ""
	}
	return s[start+1 : end]
}

func testAccount(t *testing.T, addr string, authType enum.AuthType, password string) *models.Account {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &models.Account{
		UUID: "account-1",
		Outgoing: models.ServerSettings{
			Type:               enum.ServerTypeSMTP,
			Host:               host,
			Port:               port,
			ConnectionSecurity: enum.ConnectionSecurityNone,
			AuthenticationType: authType,
			Username:           testUsername,
			Password:           password,
		},
	}
}

func newTestSender(t *testing.T, account *models.Account) *Sender {
	t.Helper()
	return NewSender(account, Config{ConnectTimeout: 5 * time.Second}, logger.NewNopLogger())
}

func testMessage() *models.Message {
	return &models.Message{
		Subject:     "Quarterly numbers",
		From:        "Sender <" + testUsername + ">",
		To:          []string{"alice@example.com", "Bob <bob@example.com>"},
		Cc:          []string{"ALICE@example.com"},
		TextPreview: "See attached.",
	}
}

func TestSend_DeliversToAllRecipients(t *testing.T) {
	// Arrange
	server := newFakeServer(t)
	sender := newTestSender(t, testAccount(t, server.addr, enum.AuthTypePlain, testPassword))
	message := testMessage()

	// Act
	err := sender.Send(context.Background(), message)

	// Assert
	require.NoError(t, err)
	state := server.snapshot()
	assert.Equal(t, testUsername, state.from)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, state.rcpts)
	assert.NotEmpty(t, message.MessageID)
	assert.True(t, strings.HasSuffix(message.MessageID, "@example.org>"))
	assert.Contains(t, state.data, message.MessageID)
	assert.Contains(t, state.data, "Subject: Quarterly numbers")
	assert.Contains(t, state.data, "See attached.")
}

func TestSend_HTMLBodyIsMultipart(t *testing.T) {
	// Arrange
	server := newFakeServer(t)
	sender := newTestSender(t, testAccount(t, server.addr, enum.AuthTypePlain, testPassword))
	message := testMessage()
	message.HTMLBody = "<p>See attached.</p>"

	// Act
	err := sender.Send(context.Background(), message)

	// Assert
	require.NoError(t, err)
	state := server.snapshot()
	assert.Contains(t, state.data, "multipart/alternative")
	assert.Contains(t, state.data, "text/html")
}

func TestSend_RawMessageKeepsItsMessageID(t *testing.T) {
	// Arrange
	server := newFakeServer(t)
	sender := newTestSender(t, testAccount(t, server.addr, enum.AuthTypePlain, testPassword))
	raw := "From: " + testUsername + "\r\n" +
		"To: alice@example.com\r\n" +
		"Subject: raw\r\n" +
		"Message-ID: <raw-1@example.org>\r\n" +
		"\r\n" +
		"body\r\n"
	message := &models.Message{
		MessageID: "<raw-1@example.org>",
		From:      testUsername,
		To:        []string{"alice@example.com"},
		Raw:       []byte(raw),
	}

	// Act
	err := sender.Send(context.Background(), message)

	// Assert
	require.NoError(t, err)
	state := server.snapshot()
	assert.Equal(t, 1, strings.Count(state.data, "Message-ID"))
	assert.Contains(t, state.data, "<raw-1@example.org>")
}

func TestSend_XOAuth2(t *testing.T) {
	// Arrange
	server := newFakeServer(t)
	sender := newTestSender(t, testAccount(t, server.addr, enum.AuthTypeXOAuth2, testPassword))

	// Act
	err := sender.Send(context.Background(), testMessage())

	// Assert
	require.NoError(t, err)
	state := server.snapshot()
	require.Len(t, state.auths, 1)
	assert.True(t, strings.HasPrefix(state.auths[0], "XOAUTH2 "))
}

func TestSend_InvalidAddressesFailWithoutConnecting(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *models.Message)
	}{
		{name: "invalid from", mutate: func(m *models.Message) { m.From = "not an address" }},
		{name: "empty from", mutate: func(m *models.Message) { m.From = "" }},
		{name: "invalid recipient", mutate: func(m *models.Message) { m.To = []string{"nobody@"} }},
		{name: "no recipients", mutate: func(m *models.Message) { m.To = nil; m.Cc = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			server := newFakeServer(t)
			sender := newTestSender(t, testAccount(t, server.addr, enum.AuthTypePlain, testPassword))
			message := testMessage()
			tt.mutate(message)

			// Act
			err := sender.Send(context.Background(), message)

			// Assert
			require.Error(t, err)
			assert.True(t, mailerrors.IsPermanent(err))
			assert.Equal(t, 0, server.snapshot().sessions)
		})
	}
}

func TestSend_AuthenticationFailure(t *testing.T) {
	// Arrange
	server := newFakeServer(t)
	sender := newTestSender(t, testAccount(t, server.addr, enum.AuthTypePlain, "wrong"))

	// Act
	err := sender.Send(context.Background(), testMessage())

	// Assert
	require.Error(t, err)
	var afe *mailerrors.AuthenticationFailedError
	assert.True(t, mailerrors.As(err, &afe))
	assert.Empty(t, server.snapshot().data)
}

func TestSend_StartTLSNotAdvertised(t *testing.T) {
	// Arrange
	server := newFakeServer(t)
	account := testAccount(t, server.addr, enum.AuthTypePlain, testPassword)
	account.Outgoing.ConnectionSecurity = enum.ConnectionSecurityStartTLS
	sender := newTestSender(t, account)

	// Act
	err := sender.Send(context.Background(), testMessage())

	// Assert
	require.Error(t, err)
	assert.True(t, mailerrors.IsPermanent(err))
	assert.Empty(t, server.snapshot().auths)
}

func TestSend_CancelledContext(t *testing.T) {
	// Arrange
	server := newFakeServer(t)
	sender := newTestSender(t, testAccount(t, server.addr, enum.AuthTypePlain, testPassword))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act
	err := sender.Send(ctx, testMessage())

	// Assert
	require.Error(t, err)
	assert.Empty(t, server.snapshot().data)
}

func TestCheckSettings(t *testing.T) {
	// Arrange
	server := newFakeServer(t)
	sender := newTestSender(t, testAccount(t, server.addr, enum.AuthTypePlain, testPassword))

	// Act
	err := sender.CheckSettings(context.Background())

	// Assert
	require.NoError(t, err)
	state := server.snapshot()
	assert.Equal(t, 1, state.sessions)
	assert.Empty(t, state.data)
}

func TestCheckSettings_ConnectionRefused(t *testing.T) {
	// Arrange
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	sender := newTestSender(t, testAccount(t, addr, enum.AuthTypePlain, testPassword))

	// Act
	err = sender.CheckSettings(context.Background())

	// Assert
	require.Error(t, err)
	var me *mailerrors.MessagingError
	assert.True(t, mailerrors.As(err, &me))
	assert.False(t, mailerrors.IsPermanent(err))
}

func TestStoreURICodec_RoundTrip(t *testing.T) {
	// Arrange
	codec := StoreURICodec{}
	settings := models.ServerSettings{
		Type:               enum.ServerTypeSMTP,
		Host:               "smtp.example.org",
		Port:               465,
		ConnectionSecurity: enum.ConnectionSecuritySSL,
		AuthenticationType: enum.AuthTypePlain,
		Username:           "user@example.org",
		Password:           "p@ss:word",
	}

	// Act
	uri, err := codec.CreateStoreURI(settings)
	require.NoError(t, err)
	decoded, err := codec.DecodeStoreURI(uri)

	// Assert
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "smtp+ssl+://"))
	assert.Equal(t, settings, decoded)
}

func TestStoreURICodec_DefaultPorts(t *testing.T) {
	// Act
	plain, err := StoreURICodec{}.DecodeStoreURI("smtp://PLAIN:user:pass@smtp.example.org")
	require.NoError(t, err)
	ssl, err := StoreURICodec{}.DecodeStoreURI("smtp+ssl+://PLAIN:user:pass@smtp.example.org")
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 587, plain.Port)
	assert.Equal(t, 465, ssl.Port)
}
