package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
)

// storageScope is the folder id of account wide extras
const storageScope uint = 0

type backendStorage struct {
	db          *gorm.DB
	blobs       interfaces.StorageService
	accountUUID string
}

// NewBackendStorage returns the Postgres BackendStorage of one account. Message bodies
// go to blobs when it is not nil and stay in the raw column otherwise.
func NewBackendStorage(db *gorm.DB, blobs interfaces.StorageService, accountUUID string) interfaces.BackendStorage {
	return &backendStorage{db: db, blobs: blobs, accountUUID: accountUUID}
}

func (s *backendStorage) GetFolder(ctx context.Context, folderServerID string) (interfaces.BackendFolder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "backendStorage.GetFolder")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, s.accountUUID)
	tracing.TagFolder(span, folderServerID)

	var folder models.LocalFolder
	err := s.db.WithContext(ctx).
		Where("account_uuid = ? AND server_id = ?", s.accountUUID, folderServerID).
		First(&folder).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, mailerrors.ErrFolderNotFound
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return &backendFolder{storage: s, id: folder.ID, serverID: folder.ServerID, name: folder.Name}, nil
}

func (s *backendStorage) GetFolderServerIDs(ctx context.Context) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "backendStorage.GetFolderServerIDs")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, s.accountUUID)

	var ids []string
	err := s.db.WithContext(ctx).Model(&models.LocalFolder{}).
		Where("account_uuid = ?", s.accountUUID).
		Order("id").
		Pluck("server_id", &ids).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return ids, nil
}

// CreateFolders skips folders that already exist
func (s *backendStorage) CreateFolders(ctx context.Context, folders []models.FolderInfo) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "backendStorage.CreateFolders")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, s.accountUUID)
	span.LogKV("folders.count", len(folders))

	if len(folders) == 0 {
		return nil
	}

	rows := make([]models.LocalFolder, 0, len(folders))
	for _, f := range folders {
		rows = append(rows, models.LocalFolder{
			AccountUUID:   s.accountUUID,
			ServerID:      f.ServerID,
			Name:          f.Name,
			Type:          f.Type,
			PathDelimiter: f.PathDelimiter,
		})
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create folders: %w", err)
	}
	return nil
}

// DeleteFolders removes the folders with their messages and extras
func (s *backendStorage) DeleteFolders(ctx context.Context, folderServerIDs []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "backendStorage.DeleteFolders")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, s.accountUUID)

	if len(folderServerIDs) == 0 {
		return nil
	}

	var blobKeys []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.LocalFolder{}).
			Where("account_uuid = ? AND server_id IN ?", s.accountUUID, folderServerIDs).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&models.LocalMessage{}).
			Where("folder_id IN ? AND blob_key <> ''", ids).
			Pluck("blob_key", &blobKeys).Error; err != nil {
			return err
		}
		if err := tx.Where("folder_id IN ?", ids).Delete(&models.LocalMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_uuid = ? AND folder_id IN ?", s.accountUUID, ids).Delete(&models.StorageExtra{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.LocalFolder{}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete folders: %w", err)
	}

	s.deleteBlobs(ctx, blobKeys)
	return nil
}

func (s *backendStorage) ChangeFolder(ctx context.Context, folderServerID, name string, folderType enum.FolderType) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "backendStorage.ChangeFolder")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, s.accountUUID)
	tracing.TagFolder(span, folderServerID)

	result := s.db.WithContext(ctx).Model(&models.LocalFolder{}).
		Where("account_uuid = ? AND server_id = ?", s.accountUUID, folderServerID).
		Updates(map[string]interface{}{
			"name":       name,
			"type":       folderType,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to change folder: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return mailerrors.ErrFolderNotFound
	}
	return nil
}

func (s *backendStorage) GetExtraString(ctx context.Context, name string) (*string, error) {
	extra, err := s.getExtra(ctx, storageScope, name)
	if err != nil || extra == nil {
		return nil, err
	}
	return extra.StringValue, nil
}

func (s *backendStorage) SetExtraString(ctx context.Context, name, value string) error {
	return s.setExtra(ctx, models.StorageExtra{FolderID: storageScope, Name: name, StringValue: &value}, "string_value")
}

func (s *backendStorage) GetExtraNumber(ctx context.Context, name string) (*int64, error) {
	extra, err := s.getExtra(ctx, storageScope, name)
	if err != nil || extra == nil {
		return nil, err
	}
	return extra.NumberValue, nil
}

func (s *backendStorage) SetExtraNumber(ctx context.Context, name string, value int64) error {
	return s.setExtra(ctx, models.StorageExtra{FolderID: storageScope, Name: name, NumberValue: &value}, "number_value")
}

func (s *backendStorage) getExtra(ctx context.Context, folderID uint, name string) (*models.StorageExtra, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "backendStorage.getExtra")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("extra.name", name)

	var extra models.StorageExtra
	err := s.db.WithContext(ctx).
		Where("account_uuid = ? AND folder_id = ? AND name = ?", s.accountUUID, folderID, name).
		First(&extra).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get extra %s: %w", name, err)
	}
	return &extra, nil
}

// setExtra upserts one value column and leaves the other one alone
func (s *backendStorage) setExtra(ctx context.Context, extra models.StorageExtra, column string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "backendStorage.setExtra")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("extra.name", extra.Name)

	extra.AccountUUID = s.accountUUID
	extra.UpdatedAt = time.Now()
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_uuid"}, {Name: "folder_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{column, "updated_at"}),
		}).
		Create(&extra).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to set extra %s: %w", extra.Name, err)
	}
	return nil
}

// deleteBlobs is best effort, rows are already gone
func (s *backendStorage) deleteBlobs(ctx context.Context, keys []string) {
	if s.blobs == nil {
		return
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			span := opentracing.SpanFromContext(ctx)
			if span != nil {
				tracing.TraceErr(span, err)
			}
		}
	}
}

// StorageFactory builds Postgres backed storages per account
type StorageFactory struct {
	db    *gorm.DB
	blobs interfaces.StorageService
}

func NewStorageFactory(db *gorm.DB, blobs interfaces.StorageService) *StorageFactory {
	return &StorageFactory{db: db, blobs: blobs}
}

func (f *StorageFactory) CreateBackendStorage(account *models.Account) interfaces.BackendStorage {
	return NewBackendStorage(f.db, f.blobs, account.UUID)
}
