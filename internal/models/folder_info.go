package models

import "github.com/customeros/mailbackend/internal/enum"

// FolderInfo describes a remote folder discovered during a folder list refresh
type FolderInfo struct {
	ServerID      string          `json:"serverId"`
	Name          string          `json:"name"`
	Type          enum.FolderType `json:"type"`
	PathDelimiter *string         `json:"pathDelimiter,omitempty"`
}
