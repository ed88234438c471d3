package enum

type ServerType string

const (
	ServerTypeIMAP ServerType = "imap"
	ServerTypePOP3 ServerType = "pop3"
	ServerTypeSMTP ServerType = "smtp"
	ServerTypeDemo ServerType = "demo"
)

func (t ServerType) String() string {
	return string(t)
}

type ConnectionSecurity string

const (
	ConnectionSecurityNone     ConnectionSecurity = "none"
	ConnectionSecurityStartTLS ConnectionSecurity = "startTLS"
	ConnectionSecuritySSL      ConnectionSecurity = "ssl"
)

func (t ConnectionSecurity) String() string {
	return string(t)
}

type AuthType string

const (
	AuthTypePlain    AuthType = "PLAIN"
	AuthTypeCramMD5  AuthType = "CRAM_MD5"
	AuthTypeExternal AuthType = "EXTERNAL"
	AuthTypeXOAuth2  AuthType = "XOAUTH2"
	AuthTypeNone     AuthType = "NONE"
)

func (t AuthType) String() string {
	return string(t)
}

func IsValidAuthType(s string) bool {
	switch AuthType(s) {
	case AuthTypePlain, AuthTypeCramMD5, AuthTypeExternal, AuthTypeXOAuth2, AuthTypeNone:
		return true
	}
	return false
}
