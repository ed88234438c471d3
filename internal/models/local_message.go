package models

import (
	"time"

	"github.com/lib/pq"

	"github.com/customeros/mailbackend/internal/enum"
)

type LocalMessage struct {
	ID              uint               `gorm:"column:id;primaryKey;autoIncrement"`
	FolderID        uint               `gorm:"column:folder_id;not null;uniqueIndex:idx_local_message_server_id"`
	ServerID        string             `gorm:"column:server_id;type:varchar(255);not null;uniqueIndex:idx_local_message_server_id"`
	MessageID       string             `gorm:"column:message_id;type:varchar(995);index"`
	InReplyTo       string             `gorm:"column:in_reply_to;type:varchar(995)"`
	Subject         string             `gorm:"column:subject;type:varchar(1000)"`
	FromAddress     string             `gorm:"column:from_address;type:varchar(255)"`
	ToAddresses     pq.StringArray     `gorm:"column:to_addresses;type:text[]"`
	CcAddresses     pq.StringArray     `gorm:"column:cc_addresses;type:text[]"`
	SentAt          *time.Time         `gorm:"column:sent_at;type:timestamp"`
	InternalDate    *time.Time         `gorm:"column:internal_date;type:timestamp;index"`
	Flags           pq.StringArray     `gorm:"column:flags;type:text[]"`
	Size            int64              `gorm:"column:size"`
	DownloadState   enum.DownloadState `gorm:"column:download_state;type:varchar(10);not null"`
	TextPreview     string             `gorm:"column:text_preview;type:text"`
	AttachmentCount int                `gorm:"column:attachment_count"`
	Parts           PartList           `gorm:"column:parts;type:jsonb"`
	// Raw is empty when the body has been offloaded to object storage
	Raw       []byte    `gorm:"column:raw;type:bytea"`
	BlobKey   string    `gorm:"column:blob_key;type:varchar(500)"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (LocalMessage) TableName() string {
	return "local_messages"
}

func (m *LocalMessage) FlagSet() []enum.Flag {
	flags := make([]enum.Flag, 0, len(m.Flags))
	for _, f := range m.Flags {
		flags = append(flags, enum.Flag(f))
	}
	return flags
}

func FlagStrings(flags []enum.Flag) pq.StringArray {
	result := make(pq.StringArray, 0, len(flags))
	for _, f := range flags {
		result = append(result, f.String())
	}
	return result
}
