package events

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailbackend/dto"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/tracing"
)

// BaseEventListener provides common functionality for all listeners
type BaseEventListener struct {
	logger    logger.Logger
	eventType string
	queueName string
}

func NewBaseEventListener(logger logger.Logger, eventType, queueName string) BaseEventListener {
	return BaseEventListener{
		logger:    logger,
		eventType: eventType,
		queueName: queueName,
	}
}

func (b BaseEventListener) GetEventType() string {
	return b.eventType
}

func (b BaseEventListener) GetQueueName() string {
	return b.queueName
}

func (b BaseEventListener) Logger() logger.Logger {
	return b.logger
}

func (b BaseEventListener) ValidateBaseEvent(ctx context.Context, input any) (*dto.Event, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Events.ValidateEvent")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	message, ok := input.(dto.Event)
	if !ok {
		err := errors.New("unable to cast to event type")
		tracing.TraceErr(span, err)
		return nil, err
	}

	var err error
	switch {
	case message.Event.Data == nil:
		err = errors.New("message data is nil")
	case message.Event.EntityId == "":
		err = errors.New("entity id is empty")
	case message.Event.AccountUUID == "":
		err = errors.New("account is empty")
	case message.Event.EventType != b.eventType:
		err = errors.Errorf("unexpected event type %q", message.Event.EventType)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &message, nil
}

// DecodeEventData converts the generic json payload of event into T
func DecodeEventData[T any](ctx context.Context, event *dto.Event) (T, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Listener.DecodeEventData")
	defer span.Finish()

	var decoded T

	jsonBytes, err := json.Marshal(event.Event.Data)
	if err != nil {
		tracing.TraceErr(span, err)
		return decoded, errors.Wrap(err, "failed to encode event data")
	}
	if err := json.Unmarshal(jsonBytes, &decoded); err != nil {
		tracing.TraceErr(span, err)
		return decoded, errors.Wrap(err, "failed to decode event data")
	}

	return decoded, nil
}

func GetEventType[T any]() string {
	eventType := reflect.TypeOf((*T)(nil)).Elem()
	if eventType.Kind() == reflect.Ptr {
		eventType = eventType.Elem()
	}
	return eventType.Name()
}
