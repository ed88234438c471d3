package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/mailbackend/interfaces"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetAccounts(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetAccounts")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var accounts []*models.Account
	result := r.db.WithContext(ctx).Order("created_at").Find(&accounts)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return nil, result.Error
	}
	span.LogKV("accounts.count", len(accounts))
	return accounts, nil
}

func (r *accountRepository) GetAccount(ctx context.Context, uuid string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, uuid)

	var account models.Account
	err := r.db.WithContext(ctx).First(&account, "uuid = ?", uuid).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, mailerrors.ErrAccountNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) SaveAccount(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.SaveAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, account.UUID)

	if err := r.db.WithContext(ctx).Save(account).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (r *accountRepository) DeleteAccount(ctx context.Context, uuid string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.DeleteAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, uuid)

	return r.db.WithContext(ctx).Delete(&models.Account{}, "uuid = ?", uuid).Error
}

// UpdateSyncStatus records the outcome of the latest sync run of an account
func (r *accountRepository) UpdateSyncStatus(ctx context.Context, uuid, status, errorMessage string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateSyncStatus")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, uuid)
	span.SetTag("status", status)

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	result := r.db.WithContext(timeoutCtx).Model(&models.Account{}).
		Where("uuid = ?", uuid).
		Updates(map[string]interface{}{
			"sync_status":   status,
			"error_message": errorMessage,
			"last_synced":   now,
			"updated_at":    now,
		})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update account sync status: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		err := fmt.Errorf("account with ID %s not found: %w", uuid, mailerrors.ErrAccountNotFound)
		tracing.TraceErr(span, err)
		return err
	}

	span.LogKV("affectedRows", result.RowsAffected)
	return nil
}
