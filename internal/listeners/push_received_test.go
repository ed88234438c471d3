package listeners

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/customeros/mailbackend/dto"
	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/services/events"
)

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) SyncFolder(ctx context.Context, accountUUID, folderServerID string, listener interfaces.SyncListener) error {
	return m.Called(ctx, accountUUID, folderServerID, listener).Error(0)
}

func (m *mockSyncer) SyncAccount(ctx context.Context, account *models.Account) error {
	return m.Called(ctx, account).Error(0)
}

func pushEvent(data interface{}) dto.Event {
	return dto.Event{
		Event: dto.EventDetails{
			Id:          "event_1",
			AccountUUID: "acc-1",
			EntityId:    "INBOX",
			EntityType:  enum.FOLDER,
			EventType:   events.GetEventType[dto.PushReceived](),
			Data:        data,
		},
	}
}

func TestPushReceivedListener_Subscription(t *testing.T) {
	listener := NewPushReceivedListener(logger.NewNopLogger(), new(mockSyncer))

	assert.Equal(t, "PushReceived", listener.GetEventType())
	assert.Equal(t, events.QueuePush, listener.GetQueueName())
}

func TestPushReceivedListener_SyncsFolder(t *testing.T) {
	// Arrange
	syncer := new(mockSyncer)
	syncer.On("SyncFolder", mock.Anything, "acc-1", "INBOX", nil).Return(nil).Once()
	listener := NewPushReceivedListener(logger.NewNopLogger(), syncer)
	data := map[string]interface{}{"accountUuid": "acc-1", "folderServerId": "INBOX"}

	// Act
	err := listener.Handle(context.Background(), pushEvent(data))

	// Assert
	assert.NoError(t, err)
	syncer.AssertExpectations(t)
}

func TestPushReceivedListener_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		syncErr error
		wantErr bool
	}{
		{"account removed", mailerrors.ErrAccountNotFound, false},
		{"folder removed", mailerrors.ErrFolderNotFound, false},
		{"transient failure", mailerrors.NewMessagingError("connection reset", errors.New("eof")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			syncer := new(mockSyncer)
			syncer.On("SyncFolder", mock.Anything, "acc-1", "INBOX", nil).Return(tt.syncErr).Once()
			listener := NewPushReceivedListener(logger.NewNopLogger(), syncer)
			data := map[string]interface{}{"accountUuid": "acc-1", "folderServerId": "INBOX"}

			// Act
			err := listener.Handle(context.Background(), pushEvent(data))

			// Assert
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestPushReceivedListener_RejectsIncompletePayload(t *testing.T) {
	// Arrange
	syncer := new(mockSyncer)
	listener := NewPushReceivedListener(logger.NewNopLogger(), syncer)

	// Act
	err := listener.Handle(context.Background(), pushEvent(map[string]interface{}{"accountUuid": "acc-1"}))

	// Assert
	assert.Error(t, err)
	syncer.AssertNotCalled(t, "SyncFolder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
