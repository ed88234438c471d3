package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/customeros/mailbackend/dto"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/utils"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishFanoutEvent(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}) error {
	return m.Called(ctx, entityId, entityType, message).Error(0)
}

func (m *mockPublisher) PublishDirectEvent(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}) error {
	return m.Called(ctx, entityId, entityType, message).Error(0)
}

func (m *mockPublisher) Close() error {
	return m.Called().Error(0)
}

func withAccount(accountUUID string) interface{} {
	return mock.MatchedBy(func(ctx context.Context) bool {
		return utils.GetAccountFromContext(ctx) == accountUUID
	})
}

func TestBackendChangedPublisher_PublishesFanoutEvent(t *testing.T) {
	// Arrange
	publisher := new(mockPublisher)
	account := &models.Account{UUID: "acc-1", Email: "user@example.org", Incoming: models.ServerSettings{Type: enum.ServerTypeIMAP}}
	expected := dto.BackendChanged{AccountUUID: "acc-1", Email: "user@example.org", ServerType: enum.ServerTypeIMAP.String()}
	publisher.On("PublishFanoutEvent", withAccount("acc-1"), "acc-1", enum.BACKEND, expected).Return(nil).Once()

	// Act
	NewBackendChangedPublisher(publisher, logger.NewNopLogger()).OnBackendChanged(account)

	// Assert
	publisher.AssertExpectations(t)
}

func TestBackendChangedPublisher_SwallowsPublishErrors(t *testing.T) {
	// Arrange
	publisher := new(mockPublisher)
	publisher.On("PublishFanoutEvent", mock.Anything, "acc-1", enum.BACKEND, mock.Anything).Return(errors.New("broker down")).Once()

	// Act & Assert
	assert.NotPanics(t, func() {
		NewBackendChangedPublisher(publisher, logger.NewNopLogger()).OnBackendChanged(&models.Account{UUID: "acc-1"})
	})
	publisher.AssertExpectations(t)
}

func TestPushCallback_OnPushEventQueuesFolderSync(t *testing.T) {
	// Arrange
	publisher := new(mockPublisher)
	expected := dto.PushReceived{AccountUUID: "acc-2", FolderServerID: "INBOX"}
	publisher.On("PublishDirectEvent", withAccount("acc-2"), "INBOX", enum.FOLDER, expected).Return(nil).Once()

	// Act
	NewPushCallback("acc-2", publisher, logger.NewNopLogger()).OnPushEvent("INBOX")

	// Assert
	publisher.AssertExpectations(t)
	publisher.AssertNotCalled(t, "PublishFanoutEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPushCallback_OnPushError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"transient", mailerrors.NewMessagingError("idle dropped", nil), false},
		{"authentication", &mailerrors.AuthenticationFailedError{Username: "user"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			publisher := new(mockPublisher)
			expected := dto.PushFailed{AccountUUID: "acc-3", Error: tt.err.Error(), Permanent: tt.permanent}
			publisher.On("PublishFanoutEvent", mock.Anything, "acc-3", enum.BACKEND, expected).Return(nil).Once()

			// Act
			NewPushCallback("acc-3", publisher, logger.NewNopLogger()).OnPushError(tt.err)

			// Assert
			publisher.AssertExpectations(t)
		})
	}
}

func TestPushCallback_OnPushNotSupported(t *testing.T) {
	// Arrange
	publisher := new(mockPublisher)
	publisher.On("PublishFanoutEvent", mock.Anything, "acc-4", enum.BACKEND, dto.PushNotSupported{AccountUUID: "acc-4"}).Return(nil).Once()

	// Act
	NewPushCallback("acc-4", publisher, logger.NewNopLogger()).OnPushNotSupported()

	// Assert
	publisher.AssertExpectations(t)
}
