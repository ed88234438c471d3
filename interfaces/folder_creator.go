package interfaces

import (
	"context"

	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/models"
)

type RemoteFolderCreator interface {
	Create(ctx context.Context, folderServerID string, mustCreate bool, folderType enum.FolderType) (enum.FolderCreateResult, error)
}

// RemoteFolderCreatorFactory never fails; unsupported accounts get a creator that
// reports AlreadyExists.
type RemoteFolderCreatorFactory interface {
	Create(account *models.Account) RemoteFolderCreator
}
