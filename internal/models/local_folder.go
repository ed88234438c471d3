package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailbackend/internal/enum"
)

// LocalFolder is the persisted projection of a remote folder for one account
type LocalFolder struct {
	ID            uint              `gorm:"column:id;primaryKey;autoIncrement"`
	AccountUUID   string            `gorm:"column:account_uuid;type:varchar(50);not null;uniqueIndex:idx_local_folder_server_id"`
	ServerID      string            `gorm:"column:server_id;type:varchar(500);not null;uniqueIndex:idx_local_folder_server_id"`
	Name          string            `gorm:"column:name;type:varchar(500)"`
	Type          enum.FolderType   `gorm:"column:type;type:varchar(20);not null;default:REGULAR"`
	PathDelimiter *string           `gorm:"column:path_delimiter;type:varchar(5)"`
	MoreMessages  enum.MoreMessages `gorm:"column:more_messages;type:varchar(10);not null;default:UNKNOWN"`
	LastChecked   *time.Time        `gorm:"column:last_checked;type:timestamp"`
	VisibleLimit  int               `gorm:"column:visible_limit"`
	CreatedAt     time.Time         `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (LocalFolder) TableName() string {
	return "local_folders"
}

func (f *LocalFolder) Info() FolderInfo {
	return FolderInfo{ServerID: f.ServerID, Name: f.Name, Type: f.Type, PathDelimiter: f.PathDelimiter}
}

func (f *LocalFolder) BeforeCreate(tx *gorm.DB) error {
	if f.MoreMessages == "" {
		f.MoreMessages = enum.MoreMessagesUnknown
	}
	if f.Type == "" {
		f.Type = enum.FolderTypeRegular
	}
	return nil
}
