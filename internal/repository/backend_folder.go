package repository

import (
	"context"
	"fmt"
	"net/url"
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

var messageUpsertColumns = []string{
	"message_id", "in_reply_to", "subject", "from_address", "to_addresses", "cc_addresses",
	"sent_at", "internal_date", "flags", "size", "download_state", "text_preview",
	"attachment_count", "parts", "raw", "blob_key", "updated_at",
}

type backendFolder struct {
	storage  *backendStorage
	id       uint
	serverID string
	name     string
}

var _ interfaces.BackendFolder = (*backendFolder)(nil)

func (f *backendFolder) ServerID() string {
	return f.serverID
}

func (f *backendFolder) Name() string {
	return f.name
}

func (f *backendFolder) db(ctx context.Context) *gorm.DB {
	return f.storage.db.WithContext(ctx)
}

func (f *backendFolder) startSpan(ctx context.Context, operation string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "backendFolder."+operation)
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, f.storage.accountUUID)
	tracing.TagFolder(span, f.serverID)
	return span, ctx
}

func (f *backendFolder) GetVisibleLimit(ctx context.Context) (int, error) {
	span, ctx := f.startSpan(ctx, "GetVisibleLimit")
	defer span.Finish()

	var folder models.LocalFolder
	if err := f.db(ctx).Select("visible_limit").First(&folder, f.id).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to get visible limit: %w", err)
	}
	return folder.VisibleLimit, nil
}

func (f *backendFolder) GetMessageServerIDs(ctx context.Context) ([]string, error) {
	span, ctx := f.startSpan(ctx, "GetMessageServerIDs")
	defer span.Finish()

	var ids []string
	err := f.db(ctx).Model(&models.LocalMessage{}).
		Where("folder_id = ?", f.id).
		Order("server_id").
		Pluck("server_id", &ids).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return ids, nil
}

type messageDates struct {
	ServerID     string
	SentAt       *time.Time
	InternalDate *time.Time
}

func (d messageDates) effective() *time.Time {
	if d.InternalDate != nil {
		return d.InternalDate
	}
	return d.SentAt
}

func (f *backendFolder) messageDates(ctx context.Context) ([]messageDates, error) {
	var rows []messageDates
	err := f.db(ctx).Model(&models.LocalMessage{}).
		Select("server_id", "sent_at", "internal_date").
		Where("folder_id = ?", f.id).
		Scan(&rows).Error
	return rows, err
}

func (f *backendFolder) GetAllMessagesAndEffectiveDates(ctx context.Context) (map[string]*time.Time, error) {
	span, ctx := f.startSpan(ctx, "GetAllMessagesAndEffectiveDates")
	defer span.Finish()

	rows, err := f.messageDates(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get message dates: %w", err)
	}
	result := make(map[string]*time.Time, len(rows))
	for _, r := range rows {
		result[r.ServerID] = r.effective()
	}
	return result, nil
}

func (f *backendFolder) GetOldestMessageDate(ctx context.Context) (*time.Time, error) {
	span, ctx := f.startSpan(ctx, "GetOldestMessageDate")
	defer span.Finish()

	rows, err := f.messageDates(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get message dates: %w", err)
	}
	var oldest *time.Time
	for _, r := range rows {
		if date := r.effective(); date != nil && (oldest == nil || date.Before(*oldest)) {
			oldest = date
		}
	}
	return oldest, nil
}

func (f *backendFolder) DestroyMessages(ctx context.Context, messageServerIDs []string) error {
	span, ctx := f.startSpan(ctx, "DestroyMessages")
	defer span.Finish()
	span.LogKV("messages.count", len(messageServerIDs))

	if len(messageServerIDs) == 0 {
		return nil
	}
	return f.destroy(ctx, span, f.db(ctx).Where("folder_id = ? AND server_id IN ?", f.id, messageServerIDs))
}

func (f *backendFolder) ClearAllMessages(ctx context.Context) error {
	span, ctx := f.startSpan(ctx, "ClearAllMessages")
	defer span.Finish()

	return f.destroy(ctx, span, f.db(ctx).Where("folder_id = ?", f.id))
}

func (f *backendFolder) destroy(ctx context.Context, span opentracing.Span, scope *gorm.DB) error {
	var blobKeys []string
	err := scope.Session(&gorm.Session{}).Model(&models.LocalMessage{}).
		Where("blob_key <> ''").
		Pluck("blob_key", &blobKeys).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to collect message bodies: %w", err)
	}

	if err = scope.Session(&gorm.Session{}).Delete(&models.LocalMessage{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	f.storage.deleteBlobs(ctx, blobKeys)
	return nil
}

func (f *backendFolder) GetMoreMessages(ctx context.Context) (enum.MoreMessages, error) {
	span, ctx := f.startSpan(ctx, "GetMoreMessages")
	defer span.Finish()

	var folder models.LocalFolder
	if err := f.db(ctx).Select("more_messages").First(&folder, f.id).Error; err != nil {
		tracing.TraceErr(span, err)
		return enum.MoreMessagesUnknown, fmt.Errorf("failed to get more messages: %w", err)
	}
	if folder.MoreMessages == "" {
		return enum.MoreMessagesUnknown, nil
	}
	return folder.MoreMessages, nil
}

func (f *backendFolder) SetMoreMessages(ctx context.Context, moreMessages enum.MoreMessages) error {
	span, ctx := f.startSpan(ctx, "SetMoreMessages")
	defer span.Finish()

	return f.updateFolder(ctx, span, map[string]interface{}{"more_messages": moreMessages})
}

func (f *backendFolder) SetLastChecked(ctx context.Context, timestamp time.Time) error {
	span, ctx := f.startSpan(ctx, "SetLastChecked")
	defer span.Finish()

	return f.updateFolder(ctx, span, map[string]interface{}{"last_checked": timestamp})
}

func (f *backendFolder) updateFolder(ctx context.Context, span opentracing.Span, values map[string]interface{}) error {
	values["updated_at"] = time.Now()
	result := f.db(ctx).Model(&models.LocalFolder{}).Where("id = ?", f.id).Updates(values)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update folder: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return mailerrors.ErrFolderNotFound
	}
	return nil
}

func (f *backendFolder) IsMessagePresent(ctx context.Context, messageServerID string) (bool, error) {
	span, ctx := f.startSpan(ctx, "IsMessagePresent")
	defer span.Finish()

	var count int64
	err := f.db(ctx).Model(&models.LocalMessage{}).
		Where("folder_id = ? AND server_id = ?", f.id, messageServerID).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return false, fmt.Errorf("failed to look up message: %w", err)
	}
	return count > 0, nil
}

func (f *backendFolder) row(ctx context.Context, messageServerID string) (*models.LocalMessage, error) {
	var row models.LocalMessage
	err := f.db(ctx).Where("folder_id = ? AND server_id = ?", f.id, messageServerID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, mailerrors.ErrMessageNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (f *backendFolder) GetMessage(ctx context.Context, messageServerID string) (*models.Message, enum.DownloadState, error) {
	span, ctx := f.startSpan(ctx, "GetMessage")
	defer span.Finish()

	row, err := f.row(ctx, messageServerID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, "", err
	}

	raw := row.Raw
	if len(raw) == 0 && row.BlobKey != "" && f.storage.blobs != nil {
		raw, err = f.storage.blobs.Download(ctx, row.BlobKey)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, "", fmt.Errorf("failed to download message body: %w", err)
		}
	}
	return toMessage(row, raw), row.DownloadState, nil
}

func (f *backendFolder) GetMessageFlags(ctx context.Context, messageServerID string) ([]enum.Flag, error) {
	span, ctx := f.startSpan(ctx, "GetMessageFlags")
	defer span.Finish()

	row, err := f.row(ctx, messageServerID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return row.FlagSet(), nil
}

func (f *backendFolder) SetMessageFlag(ctx context.Context, messageServerID string, flag enum.Flag, value bool) error {
	span, ctx := f.startSpan(ctx, "SetMessageFlag")
	defer span.Finish()
	span.SetTag("flag", flag.String())

	err := f.db(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.LocalMessage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("folder_id = ? AND server_id = ?", f.id, messageServerID).
			First(&row).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return mailerrors.ErrMessageNotFound
			}
			return err
		}
		flags := models.FlagStrings(enum.WithFlag(row.FlagSet(), flag, value))
		return tx.Model(&models.LocalMessage{}).Where("id = ?", row.ID).
			Updates(map[string]interface{}{"flags": flags, "updated_at": time.Now()}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// SaveMessage upserts by server id. With object storage configured the raw bytes are
// uploaded before the row is written.
func (f *backendFolder) SaveMessage(ctx context.Context, message *models.Message, downloadState enum.DownloadState) error {
	span, ctx := f.startSpan(ctx, "SaveMessage")
	defer span.Finish()
	span.SetTag("message.server_id", message.ServerID)
	span.SetTag("download_state", downloadState.String())

	row := fromMessage(message)
	row.FolderID = f.id
	row.DownloadState = downloadState
	row.UpdatedAt = time.Now()

	if f.storage.blobs != nil && len(message.Raw) > 0 {
		row.BlobKey = f.blobKey(message.ServerID)
		if err := f.storage.blobs.Upload(ctx, row.BlobKey, message.Raw, "message/rfc822"); err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to upload message body: %w", err)
		}
		row.Raw = nil
	}

	err := f.db(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "folder_id"}, {Name: "server_id"}},
			DoUpdates: clause.AssignmentColumns(messageUpsertColumns),
		}).
		Create(row).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (f *backendFolder) blobKey(messageServerID string) string {
	return fmt.Sprintf("%s/%d/%s.eml", f.storage.accountUUID, f.id, url.PathEscape(messageServerID))
}

func (f *backendFolder) GetFolderExtraString(ctx context.Context, name string) (*string, error) {
	extra, err := f.storage.getExtra(ctx, f.id, name)
	if err != nil || extra == nil {
		return nil, err
	}
	return extra.StringValue, nil
}

func (f *backendFolder) SetFolderExtraString(ctx context.Context, name, value string) error {
	return f.storage.setExtra(ctx, models.StorageExtra{FolderID: f.id, Name: name, StringValue: &value}, "string_value")
}

func (f *backendFolder) GetFolderExtraNumber(ctx context.Context, name string) (*int64, error) {
	extra, err := f.storage.getExtra(ctx, f.id, name)
	if err != nil || extra == nil {
		return nil, err
	}
	return extra.NumberValue, nil
}

func (f *backendFolder) SetFolderExtraNumber(ctx context.Context, name string, value int64) error {
	return f.storage.setExtra(ctx, models.StorageExtra{FolderID: f.id, Name: name, NumberValue: &value}, "number_value")
}

func fromMessage(m *models.Message) *models.LocalMessage {
	return &models.LocalMessage{
		ServerID:        m.ServerID,
		MessageID:       m.MessageID,
		InReplyTo:       m.InReplyTo,
		Subject:         m.Subject,
		FromAddress:     m.From,
		ToAddresses:     m.To,
		CcAddresses:     m.Cc,
		SentAt:          m.SentAt,
		InternalDate:    m.InternalDate,
		Flags:           models.FlagStrings(m.Flags),
		Size:            m.Size,
		TextPreview:     m.TextPreview,
		AttachmentCount: m.AttachmentCount,
		Parts:           models.PartList(m.Parts),
		Raw:             m.Raw,
	}
}

func toMessage(row *models.LocalMessage, raw []byte) *models.Message {
	return &models.Message{
		ServerID:        row.ServerID,
		MessageID:       row.MessageID,
		InReplyTo:       row.InReplyTo,
		Subject:         row.Subject,
		From:            row.FromAddress,
		To:              []string(row.ToAddresses),
		Cc:              []string(row.CcAddresses),
		SentAt:          row.SentAt,
		InternalDate:    row.InternalDate,
		Flags:           row.FlagSet(),
		Size:            row.Size,
		Raw:             raw,
		TextPreview:     row.TextPreview,
		AttachmentCount: row.AttachmentCount,
		Parts:           []models.Part(row.Parts),
	}
}
