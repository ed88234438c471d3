package pop3

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
	"github.com/customeros/mailbackend/services/syncstate"
)

// Sync downloads the newest visible-limit messages of INBOX
func (b *Backend) Sync(ctx context.Context, folderServerID string, syncConfig models.SyncConfig, listener interfaces.SyncListener) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "POP3Backend.Sync")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypePOP3.String())
	tracing.TagFolder(span, folderServerID)

	err := syncstate.Run(ctx, folderServerID, listener, b.log, func(ctx context.Context, l interfaces.SyncListener) error {
		folder, err := b.inbox(ctx, folderServerID)
		if err != nil {
			return err
		}
		s, err := b.connect(ctx)
		if err != nil {
			return err
		}
		defer s.quit()
		l.SyncAuthenticationSuccess()
		return b.syncInbox(ctx, s, folder, syncConfig, l)
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
}

func (b *Backend) syncInbox(ctx context.Context, s *session, folder interfaces.BackendFolder, cfg models.SyncConfig, l interfaces.SyncListener) error {
	folderID := folder.ServerID()

	remote, err := s.listMessages()
	if err != nil {
		return err
	}
	total := len(remote)
	// deletions are judged against the whole maildrop, not the visible window
	remoteIDs := make([]string, 0, total)
	for _, m := range remote {
		remoteIDs = append(remoteIDs, m.uid)
	}

	limit, err := folder.GetVisibleLimit(ctx)
	if err != nil || limit <= 0 {
		limit = cfg.DefaultVisibleLimit
	}
	moreMessages := enum.MoreMessagesFalse
	if limit > 0 && len(remote) > limit {
		remote = remote[len(remote)-limit:]
		moreMessages = enum.MoreMessagesTrue
	}

	localIDs, err := folder.GetMessageServerIDs(ctx)
	if err != nil {
		return mailerrors.Wrap(err, "failed to load local messages")
	}

	l.SyncHeadersStarted(folderID)
	var newMessages []remoteMessage
	for _, m := range remote {
		if !utils.IsStringInSlice(m.uid, localIDs) {
			newMessages = append(newMessages, m)
		}
	}
	// newest first
	for i, j := 0, len(newMessages)-1; i < j; i, j = i+1, j-1 {
		newMessages[i], newMessages[j] = newMessages[j], newMessages[i]
	}

	var stored []remoteMessage
	for i, m := range newMessages {
		if err := ctx.Err(); err != nil {
			return mailerrors.NewMessagingError("sync cancelled", err)
		}
		if err := b.store(ctx, s, folder, m, false); err != nil {
			b.log.Warnf("[%s][%s] Failed to download headers of %s: %v", b.accountUUID, folderID, m.uid, err)
		} else {
			stored = append(stored, m)
		}
		l.SyncHeadersProgress(folderID, i+1, len(newMessages))
	}
	l.SyncHeadersFinished(folderID, total, len(stored))

	if cfg.SyncRemoteDeletions {
		if removed := utils.Difference(localIDs, remoteIDs); len(removed) > 0 {
			if err := folder.DestroyMessages(ctx, removed); err != nil {
				return mailerrors.Wrap(err, "failed to remove deleted messages")
			}
			for _, id := range removed {
				l.SyncRemovedMessage(folderID, id)
			}
		}
	}

	if err := folder.SetMoreMessages(ctx, moreMessages); err != nil {
		return mailerrors.Wrap(err, "failed to store more messages state")
	}

	for i, m := range stored {
		if ctx.Err() != nil {
			break
		}
		if cfg.ShouldDownloadFully(m.size) {
			if err := b.store(ctx, s, folder, m, true); err != nil {
				b.log.Warnf("[%s][%s] Failed to download message %s: %v", b.accountUUID, folderID, m.uid, err)
				continue
			}
		}
		l.SyncNewMessage(folderID, m.uid, false)
		l.SyncProgress(folderID, i+1, len(stored))
	}

	if err := folder.SetLastChecked(ctx, utils.Now()); err != nil {
		return mailerrors.Wrap(err, "failed to store last checked")
	}
	b.log.Infof("[%s][%s] Sync finished, %d new messages", b.accountUUID, folderID, len(stored))
	return nil
}
