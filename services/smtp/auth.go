package smtp

import (
	"fmt"
	"net/smtp"

	"github.com/pkg/errors"

	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
)

type xoauth2Auth struct {
	username    string
	accessToken string
}

func (a *xoauth2Auth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "XOAUTH2", []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.username, a.accessToken)), nil
}

// Next answers the JSON error challenge with an empty line so the server sends its 5xx
func (a *xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return []byte{}, nil
	}
	return nil, nil
}

// externalAuth relies on the TLS client certificate presented during the handshake
type externalAuth struct{}

func (externalAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("EXTERNAL authentication requires TLS")
	}
	return "EXTERNAL", nil, nil
}

func (externalAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return []byte{}, nil
	}
	return nil, nil
}

func (s *Sender) auth() (smtp.Auth, error) {
	switch s.settings.AuthenticationType {
	case enum.AuthTypeNone:
		return nil, nil
	case enum.AuthTypeXOAuth2:
		return &xoauth2Auth{username: s.settings.Username, accessToken: s.settings.Password}, nil
	case enum.AuthTypeCramMD5:
		return smtp.CRAMMD5Auth(s.settings.Username, s.settings.Password), nil
	case enum.AuthTypeExternal:
		return externalAuth{}, nil
	case enum.AuthTypePlain, "":
		return smtp.PlainAuth("", s.settings.Username, s.settings.Password, s.settings.Host), nil
	}
	return nil, mailerrors.NewPermanentMessagingError(
		fmt.Sprintf("unsupported authentication type %s", s.settings.AuthenticationType), mailerrors.ErrUnsupportedOperation)
}

func (s *Sender) authenticate(c *smtp.Client) error {
	auth, err := s.auth()
	if err != nil || auth == nil {
		return err
	}
	if ok, _ := c.Extension("AUTH"); !ok {
		return mailerrors.NewPermanentMessagingError("server does not support authentication", nil)
	}
	if err = c.Auth(auth); err != nil {
		return &mailerrors.AuthenticationFailedError{Username: s.settings.Username, Cause: err}
	}
	return nil
}
