package interfaces

import (
	"context"

	"github.com/customeros/mailbackend/internal/models"
)

type AccountRepository interface {
	GetAccounts(ctx context.Context) ([]*models.Account, error)
	GetAccount(ctx context.Context, uuid string) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
	DeleteAccount(ctx context.Context, uuid string) error
	UpdateSyncStatus(ctx context.Context, uuid, status, errorMessage string) error
}
