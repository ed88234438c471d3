package events

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/dto"
	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
)

const CALLBACK_PUBLISH_TIMEOUT = 10 * time.Second

// BackendChangedPublisher announces evicted backends so other instances drop their copy
type BackendChangedPublisher struct {
	publisher interfaces.EventPublisher
	log       logger.Logger
}

var _ interfaces.BackendChangedListener = (*BackendChangedPublisher)(nil)

func NewBackendChangedPublisher(publisher interfaces.EventPublisher, log logger.Logger) *BackendChangedPublisher {
	return &BackendChangedPublisher{publisher: publisher, log: log}
}

func (p *BackendChangedPublisher) OnBackendChanged(account *models.Account) {
	ctx, cancel := context.WithTimeout(utils.WithAccount(context.Background(), account.UUID), CALLBACK_PUBLISH_TIMEOUT)
	defer cancel()

	span, ctx := opentracing.StartSpanFromContext(ctx, "BackendChangedPublisher.OnBackendChanged")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)
	tracing.TagAccount(span, account.UUID)

	event := dto.BackendChanged{
		AccountUUID: account.UUID,
		Email:       account.Email,
		ServerType:  account.Incoming.Type.String(),
	}
	if err := p.publisher.PublishFanoutEvent(ctx, account.UUID, enum.BACKEND, event); err != nil {
		tracing.TraceErr(span, err)
		p.log.Errorf("[%s] failed to publish backend changed event: %v", account.UUID, err)
	}
}

// PushCallback turns pusher notifications into queued events. Folder changes go to the
// direct push queue so exactly one worker syncs the folder.
type PushCallback struct {
	accountUUID string
	publisher   interfaces.EventPublisher
	log         logger.Logger
}

var _ interfaces.BackendPusherCallback = (*PushCallback)(nil)

func NewPushCallback(accountUUID string, publisher interfaces.EventPublisher, log logger.Logger) *PushCallback {
	return &PushCallback{accountUUID: accountUUID, publisher: publisher, log: log}
}

func (c *PushCallback) OnPushEvent(folderServerID string) {
	ctx, span, cancel := c.start("PushCallback.OnPushEvent")
	defer cancel()
	defer span.Finish()
	tracing.TagFolder(span, folderServerID)

	event := dto.PushReceived{AccountUUID: c.accountUUID, FolderServerID: folderServerID}
	if err := c.publisher.PublishDirectEvent(ctx, folderServerID, enum.FOLDER, event); err != nil {
		tracing.TraceErr(span, err)
		c.log.Errorf("[%s][%s] failed to publish push event: %v", c.accountUUID, folderServerID, err)
	}
}

func (c *PushCallback) OnPushError(err error) {
	ctx, span, cancel := c.start("PushCallback.OnPushError")
	defer cancel()
	defer span.Finish()
	tracing.TraceErr(span, err)

	c.log.Warnf("[%s] push error: %v", c.accountUUID, err)

	event := dto.PushFailed{AccountUUID: c.accountUUID, Permanent: mailerrors.IsPermanent(err)}
	if err != nil {
		event.Error = err.Error()
	}
	if pubErr := c.publisher.PublishFanoutEvent(ctx, c.accountUUID, enum.BACKEND, event); pubErr != nil {
		tracing.TraceErr(span, pubErr)
		c.log.Errorf("[%s] failed to publish push error event: %v", c.accountUUID, pubErr)
	}
}

func (c *PushCallback) OnPushNotSupported() {
	ctx, span, cancel := c.start("PushCallback.OnPushNotSupported")
	defer cancel()
	defer span.Finish()

	c.log.Infof("[%s] push not supported, falling back to polling", c.accountUUID)

	event := dto.PushNotSupported{AccountUUID: c.accountUUID}
	if err := c.publisher.PublishFanoutEvent(ctx, c.accountUUID, enum.BACKEND, event); err != nil {
		tracing.TraceErr(span, err)
		c.log.Errorf("[%s] failed to publish push not supported event: %v", c.accountUUID, err)
	}
}

func (c *PushCallback) start(operation string) (context.Context, opentracing.Span, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(utils.WithAccount(context.Background(), c.accountUUID), CALLBACK_PUBLISH_TIMEOUT)
	span, ctx := opentracing.StartSpanFromContext(ctx, operation)
	tracing.SetDefaultListenerSpanTags(ctx, span)
	return ctx, span, cancel
}
