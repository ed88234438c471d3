package interfaces

import (
	"context"

	"github.com/customeros/mailbackend/internal/models"
)

type AccountSyncService interface {
	SyncFolder(ctx context.Context, accountUUID, folderServerID string, listener SyncListener) error
	SyncAccount(ctx context.Context, account *models.Account) error
}
