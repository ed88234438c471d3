package interfaces

import (
	"context"

	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/models"
)

// Backend is the protocol specific implementation of sync and message operations for
// one account. Implementations are bound to the server settings they were built with.
//
// Mutations against a real server are remote first: local storage is only updated once
// the remote command succeeded.
type Backend interface {
	Capabilities() enum.Capabilities

	RefreshFolderList(ctx context.Context) error
	// Sync reports progress through listener and always ends with exactly one of
	// SyncFinished or SyncFailed. Cancelling ctx aborts the protocol connection.
	Sync(ctx context.Context, folderServerID string, syncConfig models.SyncConfig, listener SyncListener)

	DownloadMessage(ctx context.Context, syncConfig models.SyncConfig, folderServerID, messageServerID string) error
	DownloadMessageStructure(ctx context.Context, folderServerID, messageServerID string) error
	DownloadCompleteMessage(ctx context.Context, folderServerID, messageServerID string) error

	SetFlag(ctx context.Context, folderServerID string, messageServerIDs []string, flag enum.Flag, value bool) error
	MarkAllAsRead(ctx context.Context, folderServerID string) error
	Expunge(ctx context.Context, folderServerID string) error
	ExpungeMessages(ctx context.Context, folderServerID string, messageServerIDs []string) error
	DeleteMessages(ctx context.Context, folderServerID string, messageServerIDs []string) error
	DeleteAllMessages(ctx context.Context, folderServerID string) error

	// MoveMessages returns old server id to new server id. A nil map means the server
	// performed the operation without reporting new ids.
	MoveMessages(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error)
	MoveMessagesAndMarkAsRead(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error)
	CopyMessages(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error)

	// Search with an empty query filters by flags only
	Search(ctx context.Context, folderServerID, query string, requiredFlags, forbiddenFlags []enum.Flag, performFullTextSearch bool) ([]string, error)
	FetchPart(ctx context.Context, folderServerID, messageServerID string, part models.Part) ([]byte, error)
	// FindByMessageID returns "" when no message carries the Message-ID
	FindByMessageID(ctx context.Context, folderServerID, messageID string) (string, error)
	// UploadMessage returns "" when the server does not assign an id
	UploadMessage(ctx context.Context, folderServerID string, message *models.Message) (string, error)
	SendMessage(ctx context.Context, message *models.Message) error

	CheckIncomingServerSettings(ctx context.Context) error
	CheckOutgoingServerSettings(ctx context.Context) error

	CreatePusher(callback BackendPusherCallback) BackendPusher
}

// BackendProvider hands out the cached backend of an account
type BackendProvider interface {
	GetBackend(ctx context.Context, account *models.Account) (Backend, error)
	RemoveBackend(ctx context.Context, account *models.Account)
}
