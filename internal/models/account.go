package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Account is the single canonical account representation. Legacy store and transport
// uris are only kept so that accounts imported from older settings can still be resolved;
// when Incoming is empty the backend manager decodes LegacyStoreURI instead.
type Account struct {
	UUID               string         `gorm:"column:uuid;type:varchar(50);primaryKey" json:"uuid"`
	Name               string         `gorm:"column:name;type:varchar(255)" json:"name"`
	Email              string         `gorm:"column:email;type:varchar(255);index" json:"email"`
	Incoming           ServerSettings `gorm:"embedded;embeddedPrefix:incoming_" json:"incoming"`
	Outgoing           ServerSettings `gorm:"embedded;embeddedPrefix:outgoing_" json:"outgoing"`
	LegacyStoreURI     string         `gorm:"column:legacy_store_uri;type:text" json:"legacyStoreUri,omitempty"`
	LegacyTransportURI string         `gorm:"column:legacy_transport_uri;type:text" json:"legacyTransportUri,omitempty"`
	SyncFolders        pq.StringArray `gorm:"column:sync_folders;type:text[]" json:"syncFolders"`
	SyncConfig         *SyncConfig    `gorm:"column:sync_config;type:jsonb" json:"syncConfig,omitempty"`
	// Status Information
	LastSynced   *time.Time `gorm:"column:last_synced;type:timestamp" json:"lastSynced"`
	SyncStatus   string     `gorm:"column:sync_status;type:varchar(50)" json:"syncStatus"`
	ErrorMessage string     `gorm:"column:error_message;type:text" json:"errorMessage"`
	// Standard timestamps
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// TableName sets the table name
func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	return nil
}

// SameSettings reports whether both accounts would produce an identical backend
func (a *Account) SameSettings(other *Account) bool {
	return a.Incoming.Equal(other.Incoming) &&
		a.Outgoing.Equal(other.Outgoing) &&
		a.LegacyStoreURI == other.LegacyStoreURI &&
		a.LegacyTransportURI == other.LegacyTransportURI
}
