package models

import "time"

// StorageExtra is an opaque key/value slot. FolderID 0 marks the storage-wide scope.
type StorageExtra struct {
	AccountUUID string    `gorm:"column:account_uuid;type:varchar(50);primaryKey"`
	FolderID    uint      `gorm:"column:folder_id;primaryKey;autoIncrement:false"`
	Name        string    `gorm:"column:name;type:varchar(255);primaryKey"`
	StringValue *string   `gorm:"column:string_value;type:text"`
	NumberValue *int64    `gorm:"column:number_value"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (StorageExtra) TableName() string {
	return "storage_extras"
}
