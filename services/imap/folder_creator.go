package imap

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/tracing"
)

// FolderCreator creates folders on the server of one account
type FolderCreator struct {
	backend *Backend
}

var _ interfaces.RemoteFolderCreator = (*FolderCreator)(nil)

func NewFolderCreator(b *Backend) *FolderCreator {
	return &FolderCreator{backend: b}
}

// Create issues CREATE unless the folder exists and mustCreate is false. A failed CREATE
// for a folder that turns out to exist reports AlreadyExists.
func (fc *FolderCreator) Create(ctx context.Context, folderServerID string, mustCreate bool, folderType enum.FolderType) (enum.FolderCreateResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPFolderCreator.Create")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeIMAP.String())
	tracing.TagFolder(span, folderServerID)
	span.SetTag("must_create", mustCreate)
	span.SetTag("folder.type", folderType.String())

	b := fc.backend
	var result enum.FolderCreateResult
	err := b.withConnection(ctx, func(cn *connection) error {
		if !mustCreate {
			exists, err := folderExists(cn, folderServerID)
			if err != nil {
				return err
			}
			if exists {
				result = enum.FolderAlreadyExists
				return nil
			}
		}

		createErr := cn.c.Create(folderServerID)
		if createErr == nil {
			result = enum.FolderCreated
			return nil
		}
		if exists, err := folderExists(cn, folderServerID); err == nil && exists {
			result = enum.FolderAlreadyExists
			return nil
		}
		return mailerrors.NewMessagingError(fmt.Sprintf("failed to create folder %s", folderServerID), createErr)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	b.log.Infof("[%s][%s] Folder create result: %s", b.accountUUID, folderServerID, result)
	return result, nil
}

func folderExists(cn *connection, name string) (bool, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- cn.c.List("", name, mailboxes)
	}()

	exists := false
	for m := range mailboxes {
		if m.Name == name {
			exists = true
		}
	}
	if err := <-done; err != nil {
		return false, mailerrors.NewMessagingError("failed to list folders", err)
	}
	return exists, nil
}
