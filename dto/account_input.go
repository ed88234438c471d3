package dto

import (
	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/models"
)

// ServerSettingsInput mirrors models.ServerSettings but accepts the password
type ServerSettingsInput struct {
	Type                   enum.ServerType         `json:"type"`
	Host                   string                  `json:"host"`
	Port                   int                     `json:"port"`
	ConnectionSecurity     enum.ConnectionSecurity `json:"connectionSecurity"`
	AuthenticationType     enum.AuthType           `json:"authenticationType"`
	Username               string                  `json:"username"`
	Password               string                  `json:"password"`
	ClientCertificateAlias string                  `json:"clientCertificateAlias"`
}

func (s *ServerSettingsInput) ToModel() models.ServerSettings {
	if s == nil {
		return models.ServerSettings{}
	}
	return models.ServerSettings{
		Type:                   s.Type,
		Host:                   s.Host,
		Port:                   s.Port,
		ConnectionSecurity:     s.ConnectionSecurity,
		AuthenticationType:     s.AuthenticationType,
		Username:               s.Username,
		Password:               s.Password,
		ClientCertificateAlias: s.ClientCertificateAlias,
	}
}

type AccountInput struct {
	Name               string               `json:"name"`
	Email              string               `json:"email"`
	Incoming           *ServerSettingsInput `json:"incoming"`
	Outgoing           *ServerSettingsInput `json:"outgoing"`
	LegacyStoreURI     string               `json:"legacyStoreUri"`
	LegacyTransportURI string               `json:"legacyTransportUri"`
	SyncFolders        []string             `json:"syncFolders"`
	SyncConfig         *models.SyncConfig   `json:"syncConfig"`
}

type CreateFolderInput struct {
	FolderServerID string          `json:"folderServerId"`
	FolderType     enum.FolderType `json:"folderType"`
	MustCreate     bool            `json:"mustCreate"`
}

type SendMessageInput struct {
	Subject   string   `json:"subject"`
	To        []string `json:"to"`
	Cc        []string `json:"cc"`
	InReplyTo string   `json:"inReplyTo"`
	Text      string   `json:"text"`
	HTML      string   `json:"html"`
}
