package utils

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
)

const (
	startTLSSuffix = "+tls+"
	sslSuffix      = "+ssl+"
)

// DefaultPorts holds the plain and implicit TLS port of a protocol
type DefaultPorts struct {
	Plain int
	SSL   int
}

// EncodeStoreURI renders settings as scheme[+tls+|+ssl+]://AUTH:user:secret@host:port.
// For EXTERNAL authentication the secret is the client certificate alias.
func EncodeStoreURI(scheme string, settings models.ServerSettings) (string, error) {
	if settings.Host == "" {
		return "", errors.Wrap(mailerrors.ErrInvalidStoreURI, "missing host")
	}

	var sb strings.Builder
	sb.WriteString(scheme)
	switch settings.ConnectionSecurity {
	case enum.ConnectionSecurityStartTLS:
		sb.WriteString(startTLSSuffix)
	case enum.ConnectionSecuritySSL:
		sb.WriteString(sslSuffix)
	}
	sb.WriteString("://")

	secret := settings.Password
	if settings.AuthenticationType == enum.AuthTypeExternal {
		secret = settings.ClientCertificateAlias
	}
	authType := settings.AuthenticationType
	if authType == "" {
		authType = enum.AuthTypePlain
	}
	sb.WriteString(url.QueryEscape(authType.String()))
	sb.WriteString(":")
	sb.WriteString(url.QueryEscape(settings.Username))
	sb.WriteString(":")
	sb.WriteString(url.QueryEscape(secret))
	sb.WriteString("@")
	sb.WriteString(net.JoinHostPort(settings.Host, strconv.Itoa(settings.Port)))

	return sb.String(), nil
}

// DecodeStoreURI parses a uri produced by EncodeStoreURI. A missing port falls back to
// the protocol default for the connection security.
func DecodeStoreURI(scheme string, serverType enum.ServerType, ports DefaultPorts, uri string) (models.ServerSettings, error) {
	settings := models.ServerSettings{Type: serverType}

	idx := strings.Index(uri, "://")
	if idx < 0 {
		return settings, errors.Wrapf(mailerrors.ErrInvalidStoreURI, "missing scheme separator in %q", redact(uri))
	}
	uriScheme, rest := uri[:idx], uri[idx+3:]

	switch uriScheme {
	case scheme:
		settings.ConnectionSecurity = enum.ConnectionSecurityNone
	case scheme + startTLSSuffix:
		settings.ConnectionSecurity = enum.ConnectionSecurityStartTLS
	case scheme + sslSuffix:
		settings.ConnectionSecurity = enum.ConnectionSecuritySSL
	default:
		return settings, errors.Wrapf(mailerrors.ErrInvalidStoreURI, "unsupported scheme %q", uriScheme)
	}

	hostPort := rest
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if err := decodeUserInfo(rest[:at], &settings); err != nil {
			return settings, err
		}
		hostPort = rest[at+1:]
	} else {
		settings.AuthenticationType = enum.AuthTypePlain
	}
	hostPort = strings.TrimSuffix(hostPort, "/")

	host, portString, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = strings.Trim(hostPort, "[]")
		portString = ""
	}
	if host == "" {
		return settings, errors.Wrap(mailerrors.ErrInvalidStoreURI, "missing host")
	}
	settings.Host = host

	if portString == "" {
		settings.Port = ports.Plain
		if settings.ConnectionSecurity == enum.ConnectionSecuritySSL {
			settings.Port = ports.SSL
		}
	} else {
		port, err := strconv.Atoi(portString)
		if err != nil || port <= 0 || port > 65535 {
			return settings, errors.Wrapf(mailerrors.ErrInvalidStoreURI, "invalid port %q", portString)
		}
		settings.Port = port
	}

	return settings, nil
}

func decodeUserInfo(userInfo string, settings *models.ServerSettings) error {
	parts := strings.Split(userInfo, ":")
	unescaped := make([]string, len(parts))
	for i, p := range parts {
		v, err := url.QueryUnescape(p)
		if err != nil {
			return errors.Wrap(mailerrors.ErrInvalidStoreURI, "malformed user info")
		}
		unescaped[i] = v
	}

	switch len(unescaped) {
	case 3:
		if !enum.IsValidAuthType(unescaped[0]) {
			return errors.Wrapf(mailerrors.ErrInvalidStoreURI, "unknown authentication type %q", unescaped[0])
		}
		settings.AuthenticationType = enum.AuthType(unescaped[0])
		settings.Username = unescaped[1]
		if settings.AuthenticationType == enum.AuthTypeExternal {
			settings.ClientCertificateAlias = unescaped[2]
		} else {
			settings.Password = unescaped[2]
		}
	case 2:
		// older uris carry user:password only
		settings.AuthenticationType = enum.AuthTypePlain
		settings.Username = unescaped[0]
		settings.Password = unescaped[1]
	default:
		return errors.Wrap(mailerrors.ErrInvalidStoreURI, "malformed user info")
	}
	return nil
}

// redact strips credentials from a uri before it ends up in an error message
func redact(uri string) string {
	if at := strings.LastIndex(uri, "@"); at >= 0 {
		if idx := strings.Index(uri, "://"); idx >= 0 && idx < at {
			return uri[:idx+3] + "***" + uri[at:]
		}
		return "***" + uri[at:]
	}
	return uri
}
