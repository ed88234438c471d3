package models

import (
	"net"
	"strconv"

	"github.com/customeros/mailbackend/internal/enum"
)

// ServerSettings describes one mail protocol endpoint. It is a plain comparable value:
// two settings are equal exactly when every field is equal, which is what the backend
// cache relies on for invalidation. Password carries the access token for XOAUTH2.
type ServerSettings struct {
	Type                   enum.ServerType         `gorm:"column:type;type:varchar(20)" json:"type"`
	Host                   string                  `gorm:"column:host;type:varchar(255)" json:"host"`
	Port                   int                     `gorm:"column:port" json:"port"`
	ConnectionSecurity     enum.ConnectionSecurity `gorm:"column:connection_security;type:varchar(20)" json:"connectionSecurity"`
	AuthenticationType     enum.AuthType           `gorm:"column:authentication_type;type:varchar(20)" json:"authenticationType"`
	Username               string                  `gorm:"column:username;type:varchar(255)" json:"username"`
	Password               string                  `gorm:"column:password;type:varchar(2048)" json:"-"`
	ClientCertificateAlias string                  `gorm:"column:client_certificate_alias;type:varchar(255)" json:"clientCertificateAlias,omitempty"`
}

func (s ServerSettings) Equal(other ServerSettings) bool {
	return s == other
}

func (s ServerSettings) IsZero() bool {
	return s == ServerSettings{}
}

func (s ServerSettings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
