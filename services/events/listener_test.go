package events

import (
	"context"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbackend/dto"
	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/utils"
)

func pushEvent() dto.Event {
	return dto.Event{
		Event: dto.EventDetails{
			Id:          "event_1",
			AccountUUID: "acc-1",
			EntityId:    "INBOX",
			EntityType:  enum.FOLDER,
			EventType:   "PushReceived",
			Data:        map[string]interface{}{"accountUuid": "acc-1", "folderServerId": "INBOX"},
		},
	}
}

func TestGetEventType(t *testing.T) {
	assert.Equal(t, "PushReceived", GetEventType[dto.PushReceived]())
	assert.Equal(t, "PushReceived", GetEventType[*dto.PushReceived]())
}

func TestValidateBaseEvent(t *testing.T) {
	listener := NewBaseEventListener(logger.NewNopLogger(), "PushReceived", QueuePush)

	tests := []struct {
		name   string
		mutate func(e *dto.Event)
		valid  bool
	}{
		{"valid", func(e *dto.Event) {}, true},
		{"missing data", func(e *dto.Event) { e.Event.Data = nil }, false},
		{"missing entity", func(e *dto.Event) { e.Event.EntityId = "" }, false},
		{"missing account", func(e *dto.Event) { e.Event.AccountUUID = "" }, false},
		{"other event type", func(e *dto.Event) { e.Event.EventType = "BackendChanged" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			event := pushEvent()
			tt.mutate(&event)

			// Act
			validated, err := listener.ValidateBaseEvent(context.Background(), event)

			// Assert
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, "acc-1", validated.Event.AccountUUID)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateBaseEvent_RejectsOtherTypes(t *testing.T) {
	listener := NewBaseEventListener(logger.NewNopLogger(), "PushReceived", QueuePush)

	_, err := listener.ValidateBaseEvent(context.Background(), "not an event")

	assert.Error(t, err)
}

func TestDecodeEventData(t *testing.T) {
	// Arrange
	event := pushEvent()

	// Act
	decoded, err := DecodeEventData[dto.PushReceived](context.Background(), &event)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, dto.PushReceived{AccountUUID: "acc-1", FolderServerID: "INBOX"}, decoded)
}

func TestNewEvent_CarriesContext(t *testing.T) {
	// Arrange
	ctx := utils.WithCustomContext(context.Background(), &utils.CustomContext{AccountUUID: "acc-9", RequestID: "req-1"})
	span := opentracing.StartSpan("test")
	defer span.Finish()

	// Act
	event := newEvent(ctx, span, "INBOX", enum.FOLDER, &dto.PushReceived{AccountUUID: "acc-9", FolderServerID: "INBOX"})

	// Assert
	assert.Equal(t, "PushReceived", event.Event.EventType)
	assert.Equal(t, "acc-9", event.Event.AccountUUID)
	assert.Equal(t, "INBOX", event.Event.EntityId)
	assert.Equal(t, APP_SOURCE, event.Metadata.AppSource)
	assert.Equal(t, "req-1", event.Metadata.RequestId)
	assert.NotEmpty(t, event.Event.Id)
	assert.NotEmpty(t, event.Metadata.Timestamp)
}
