package listeners

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailbackend/dto"
	"github.com/customeros/mailbackend/interfaces"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/services/events"
)

// PushReceivedListener syncs the folder named by a push event
type PushReceivedListener struct {
	events.BaseEventListener
	syncer interfaces.AccountSyncService
}

func NewPushReceivedListener(logger logger.Logger, syncer interfaces.AccountSyncService) interfaces.EventListener {
	return &PushReceivedListener{
		BaseEventListener: events.NewBaseEventListener(
			logger,
			events.GetEventType[dto.PushReceived](),
			events.QueuePush,
		),
		syncer: syncer,
	}
}

func (l *PushReceivedListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "PushReceivedListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)
	tracing.LogObjectAsJson(span, "event", baseEvent)

	validatedEvent, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	push, err := events.DecodeEventData[dto.PushReceived](ctx, validatedEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if push.AccountUUID == "" || push.FolderServerID == "" {
		err := errors.New("push event without account or folder")
		tracing.TraceErr(span, err)
		return err
	}
	tracing.TagAccount(span, push.AccountUUID)
	tracing.TagFolder(span, push.FolderServerID)

	err = l.syncer.SyncFolder(ctx, push.AccountUUID, push.FolderServerID, nil)
	switch {
	case err == nil:
		return nil
	case mailerrors.Is(err, mailerrors.ErrAccountNotFound), mailerrors.Is(err, mailerrors.ErrFolderNotFound):
		// the account or folder went away after the push was queued
		l.Logger().Infof("[%s][%s] dropping push event: %v", push.AccountUUID, push.FolderServerID, err)
		return nil
	default:
		tracing.TraceErr(span, err)
		return err
	}
}
