package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/models"
)

// BackendStorage is the local persistence a backend writes sync results through.
// Extra values are opaque to the storage layer.
type BackendStorage interface {
	// GetFolder fails with errors.ErrFolderNotFound for folders never created locally
	GetFolder(ctx context.Context, folderServerID string) (BackendFolder, error)
	GetFolderServerIDs(ctx context.Context) ([]string, error)
	CreateFolders(ctx context.Context, folders []models.FolderInfo) error
	DeleteFolders(ctx context.Context, folderServerIDs []string) error
	ChangeFolder(ctx context.Context, folderServerID, name string, folderType enum.FolderType) error

	GetExtraString(ctx context.Context, name string) (*string, error)
	SetExtraString(ctx context.Context, name, value string) error
	GetExtraNumber(ctx context.Context, name string) (*int64, error)
	SetExtraNumber(ctx context.Context, name string, value int64) error
}

type BackendFolder interface {
	ServerID() string
	Name() string
	GetVisibleLimit(ctx context.Context) (int, error)

	GetMessageServerIDs(ctx context.Context) ([]string, error)
	GetAllMessagesAndEffectiveDates(ctx context.Context) (map[string]*time.Time, error)
	DestroyMessages(ctx context.Context, messageServerIDs []string) error
	ClearAllMessages(ctx context.Context) error

	// GetMoreMessages returns UNKNOWN until something was stored
	GetMoreMessages(ctx context.Context) (enum.MoreMessages, error)
	SetMoreMessages(ctx context.Context, moreMessages enum.MoreMessages) error
	SetLastChecked(ctx context.Context, timestamp time.Time) error

	IsMessagePresent(ctx context.Context, messageServerID string) (bool, error)
	GetMessage(ctx context.Context, messageServerID string) (*models.Message, enum.DownloadState, error)
	GetMessageFlags(ctx context.Context, messageServerID string) ([]enum.Flag, error)
	SetMessageFlag(ctx context.Context, messageServerID string, flag enum.Flag, value bool) error
	// SaveMessage upserts by server id
	SaveMessage(ctx context.Context, message *models.Message, downloadState enum.DownloadState) error
	GetOldestMessageDate(ctx context.Context) (*time.Time, error)

	GetFolderExtraString(ctx context.Context, name string) (*string, error)
	SetFolderExtraString(ctx context.Context, name, value string) error
	GetFolderExtraNumber(ctx context.Context, name string) (*int64, error)
	SetFolderExtraNumber(ctx context.Context, name string, value int64) error
}

// StorageService stores raw message bodies in object storage
type StorageService interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
