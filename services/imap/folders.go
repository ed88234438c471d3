package imap

import (
	"context"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
)

const INBOX = "INBOX"

var specialUseTypes = map[string]enum.FolderType{
	`\Drafts`:  enum.FolderTypeDrafts,
	`\Sent`:    enum.FolderTypeSent,
	`\Trash`:   enum.FolderTypeTrash,
	`\Junk`:    enum.FolderTypeSpam,
	`\Archive`: enum.FolderTypeArchive,
	`\All`:     enum.FolderTypeArchive,
}

var folderNameTypes = map[string]enum.FolderType{
	"drafts":        enum.FolderTypeDrafts,
	"draft":         enum.FolderTypeDrafts,
	"sent":          enum.FolderTypeSent,
	"sent items":    enum.FolderTypeSent,
	"sent messages": enum.FolderTypeSent,
	"sent mail":     enum.FolderTypeSent,
	"trash":         enum.FolderTypeTrash,
	"deleted items": enum.FolderTypeTrash,
	"bin":           enum.FolderTypeTrash,
	"spam":          enum.FolderTypeSpam,
	"junk":          enum.FolderTypeSpam,
	"junk e-mail":   enum.FolderTypeSpam,
	"archive":       enum.FolderTypeArchive,
	"archives":      enum.FolderTypeArchive,
	"all mail":      enum.FolderTypeArchive,
	"outbox":        enum.FolderTypeOutbox,
}

// folderType maps a LIST response to a folder type. SPECIAL-USE attributes win over
// name matching; the name is matched on its last path segment.
func folderType(info *imap.MailboxInfo) enum.FolderType {
	if strings.EqualFold(info.Name, INBOX) {
		return enum.FolderTypeInbox
	}
	for _, attr := range info.Attributes {
		if t, ok := specialUseTypes[attr]; ok {
			return t
		}
	}

	name := info.Name
	if info.Delimiter != "" {
		if i := strings.LastIndex(name, info.Delimiter); i >= 0 {
			name = name[i+len(info.Delimiter):]
		}
	}
	if t, ok := folderNameTypes[strings.ToLower(name)]; ok {
		return t
	}
	return enum.FolderTypeRegular
}

func folderInfo(info *imap.MailboxInfo) models.FolderInfo {
	folder := models.FolderInfo{
		ServerID: info.Name,
		Name:     info.Name,
		Type:     folderType(info),
	}
	if strings.EqualFold(info.Name, INBOX) {
		folder.ServerID = INBOX
		folder.Name = INBOX
	}
	if info.Delimiter != "" {
		folder.PathDelimiter = utils.Ptr(info.Delimiter)
	}
	return folder
}

// listFolders returns every selectable folder on the server sorted by server id
func (b *Backend) listFolders(ctx context.Context, cn *connection) ([]models.FolderInfo, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPBackend.listFolders")
	defer span.Finish()

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- cn.c.List("", "*", mailboxes)
	}()

	var folders []models.FolderInfo
	for m := range mailboxes {
		if utils.IsStringInSlice(imap.NoSelectAttr, m.Attributes) {
			continue
		}
		folders = append(folders, folderInfo(m))
	}

	if err := <-done; err != nil {
		tracing.TraceErr(span, err)
		return nil, mailerrors.NewMessagingError("failed to list folders", err)
	}

	sort.Slice(folders, func(i, j int) bool {
		return folders[i].ServerID < folders[j].ServerID
	})
	span.SetTag("folders.count", len(folders))
	return folders, nil
}

// RefreshFolderList reconciles local folders with the server's LIST response. Nothing is
// written locally when listing fails.
func (b *Backend) RefreshFolderList(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPBackend.RefreshFolderList")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())

	var remote []models.FolderInfo
	err := b.withConnection(ctx, func(cn *connection) error {
		var err error
		remote, err = b.listFolders(ctx, cn)
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := reconcileFolders(ctx, b.storage, remote); err != nil {
		tracing.TraceErr(span, err)
		return mailerrors.Wrap(err, "failed to store folder list")
	}

	b.log.Infof("[%s] Found %d folders", b.accountUUID, len(remote))
	return nil
}

type folderStorage interface {
	GetFolderServerIDs(ctx context.Context) ([]string, error)
	CreateFolders(ctx context.Context, folders []models.FolderInfo) error
	DeleteFolders(ctx context.Context, folderServerIDs []string) error
	ChangeFolder(ctx context.Context, folderServerID, name string, folderType enum.FolderType) error
}

func reconcileFolders(ctx context.Context, storage folderStorage, remote []models.FolderInfo) error {
	local, err := storage.GetFolderServerIDs(ctx)
	if err != nil {
		return err
	}

	remoteIDs := make([]string, 0, len(remote))
	var created []models.FolderInfo
	for _, folder := range remote {
		remoteIDs = append(remoteIDs, folder.ServerID)
		if !utils.IsStringInSlice(folder.ServerID, local) {
			created = append(created, folder)
			continue
		}
		if err := storage.ChangeFolder(ctx, folder.ServerID, folder.Name, folder.Type); err != nil {
			return err
		}
	}

	if len(created) > 0 {
		if err := storage.CreateFolders(ctx, created); err != nil {
			return err
		}
	}
	if deleted := utils.Difference(local, remoteIDs); len(deleted) > 0 {
		if err := storage.DeleteFolders(ctx, deleted); err != nil {
			return err
		}
	}
	return nil
}
