package demo

import (
	"context"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/utils"
	"github.com/customeros/mailbackend/services/syncstate"
)

func runSync(ctx context.Context, b *Backend, folderServerID string, listener interfaces.SyncListener) error {
	return syncstate.Run(ctx, folderServerID, listener, b.log, func(ctx context.Context, l interfaces.SyncListener) error {
		folder, err := b.folder(ctx, folderServerID)
		if err != nil {
			return err
		}
		l.SyncAuthenticationSuccess()

		messages := demoMessages(folderServerID)
		localIDs, err := folder.GetMessageServerIDs(ctx)
		if err != nil {
			return mailerrors.Wrap(err, "failed to load local messages")
		}

		l.SyncHeadersStarted(folderServerID)
		var created []demoMessage
		for _, m := range messages {
			if !utils.IsStringInSlice(m.serverID, localIDs) {
				created = append(created, m)
			}
		}
		l.SyncHeadersFinished(folderServerID, len(messages), len(created))

		for i, m := range created {
			message, err := models.ParseMessage(m.serverID, []byte(m.raw))
			if err != nil {
				return mailerrors.Wrap(err, "failed to parse demo message")
			}
			message.Flags = m.flags
			if err := folder.SaveMessage(ctx, message, enum.DownloadStateFull); err != nil {
				return mailerrors.Wrap(err, "failed to store demo message")
			}
			l.SyncNewMessage(folderServerID, m.serverID, message.HasFlag(enum.FlagSeen))
			l.SyncProgress(folderServerID, i+1, len(created))
		}

		if err := folder.SetMoreMessages(ctx, enum.MoreMessagesFalse); err != nil {
			return mailerrors.Wrap(err, "failed to store more messages state")
		}
		return mailerrors.Wrap(folder.SetLastChecked(ctx, utils.Now()), "failed to store last checked")
	})
}
