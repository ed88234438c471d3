package syncstate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbackend/interfaces"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
)

func TestGuard_ForwardsValidSequence(t *testing.T) {
	// Arrange
	recorder := NewRecorder()
	guard := NewGuard("INBOX", recorder, nil)

	// Act
	guard.SyncStarted("INBOX")
	guard.SyncAuthenticationSuccess()
	guard.SyncHeadersStarted("INBOX")
	guard.SyncHeadersProgress("INBOX", 1, 2)
	guard.SyncHeadersProgress("INBOX", 2, 2)
	guard.SyncHeadersFinished("INBOX", 2, 1)
	guard.SyncNewMessage("INBOX", "7", false)
	guard.SyncProgress("INBOX", 1, 1)
	guard.SyncFinished("INBOX")

	// Assert
	assert.Equal(t, []EventType{
		EventSyncStarted,
		EventSyncAuthenticationSuccess,
		EventSyncHeadersStarted,
		EventSyncHeadersProgress,
		EventSyncHeadersProgress,
		EventSyncHeadersFinished,
		EventSyncNewMessage,
		EventSyncProgress,
		EventSyncFinished,
	}, recorder.Types())
	assert.NoError(t, ValidateSequence(recorder.Events()))
	assert.Equal(t, StateFinished, guard.State())
}

func TestGuard_DropsOutOfOrderEvents(t *testing.T) {
	// Arrange
	recorder := NewRecorder()
	guard := NewGuard("INBOX", recorder, nil)

	// Act
	guard.SyncHeadersFinished("INBOX", 1, 1)
	guard.SyncStarted("INBOX")
	guard.SyncNewMessage("INBOX", "1", false)
	guard.SyncHeadersStarted("INBOX")
	guard.SyncStarted("INBOX")

	// Assert
	assert.Equal(t, []EventType{EventSyncStarted, EventSyncHeadersStarted}, recorder.Types())
}

func TestGuard_NothingAfterTerminalEvent(t *testing.T) {
	// Arrange
	recorder := NewRecorder()
	guard := NewGuard("INBOX", recorder, nil)
	guard.SyncStarted("INBOX")

	// Act
	guard.SyncFailed("INBOX", "boom", errors.New("boom"))
	guard.SyncFinished("INBOX")
	guard.SyncFailed("INBOX", "again", nil)
	guard.FolderStatusChanged("INBOX")
	guard.Terminate(nil)

	// Assert
	assert.Equal(t, []EventType{EventSyncStarted, EventSyncFailed}, recorder.Types())
}

// stateReadingListener asks the guard for its state from inside each callback
type stateReadingListener struct {
	*Recorder
	guard  *Guard
	states []State
}

func (l *stateReadingListener) SyncStarted(folderServerID string) {
	l.states = append(l.states, l.guard.State())
	l.Recorder.SyncStarted(folderServerID)
}

func (l *stateReadingListener) SyncFinished(folderServerID string) {
	l.states = append(l.states, l.guard.State())
	l.Recorder.SyncFinished(folderServerID)
}

func TestGuard_DelegateMayCallBackIntoGuard(t *testing.T) {
	// Arrange
	listener := &stateReadingListener{Recorder: NewRecorder()}
	guard := NewGuard("INBOX", listener, nil)
	listener.guard = guard

	// Act
	guard.SyncStarted("INBOX")
	guard.Terminate(nil)

	// Assert
	assert.Equal(t, []State{StateStarted, StateFinished}, listener.states)
	assert.Equal(t, []EventType{EventSyncStarted, EventSyncFinished}, listener.Types())
}

func TestRun_FinishesOnSuccess(t *testing.T) {
	recorder := NewRecorder()

	err := Run(context.Background(), "INBOX", recorder, nil, func(ctx context.Context, l interfaces.SyncListener) error {
		l.SyncHeadersStarted("INBOX")
		l.SyncHeadersFinished("INBOX", 0, 0)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []EventType{EventSyncStarted, EventSyncHeadersStarted, EventSyncHeadersFinished, EventSyncFinished}, recorder.Types())
}

func TestRun_FailsWithMessagingErrorMessage(t *testing.T) {
	recorder := NewRecorder()
	cause := errors.New("connection reset")

	err := Run(context.Background(), "INBOX", recorder, nil, func(ctx context.Context, l interfaces.SyncListener) error {
		l.SyncHeadersStarted("INBOX")
		return mailerrors.NewMessagingError("fetch failed", cause)
	})

	require.Error(t, err)
	last := recorder.Last()
	assert.Equal(t, EventSyncFailed, last.Type)
	assert.Equal(t, "fetch failed", last.Message)
	assert.ErrorIs(t, last.Err, cause)
}

func TestRun_RecoversPanic(t *testing.T) {
	recorder := NewRecorder()

	err := Run(context.Background(), "INBOX", recorder, nil, func(ctx context.Context, l interfaces.SyncListener) error {
		panic("unexpected")
	})

	require.Error(t, err)
	assert.Equal(t, []EventType{EventSyncStarted, EventSyncFailed}, recorder.Types())
}

func TestRun_CancelledContextFails(t *testing.T) {
	recorder := NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	err := Run(ctx, "INBOX", recorder, nil, func(ctx context.Context, l interfaces.SyncListener) error {
		l.SyncHeadersStarted("INBOX")
		cancel()
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, EventSyncFailed, recorder.Last().Type)
	assert.ErrorIs(t, recorder.Last().Err, context.Canceled)
}

func TestChannelListener_ClosesAfterTerminalEvent(t *testing.T) {
	// Arrange
	listener := NewChannelListener(16)

	// Act
	go func() {
		_ = Run(context.Background(), "INBOX", listener, nil, func(ctx context.Context, l interfaces.SyncListener) error {
			l.SyncHeadersStarted("INBOX")
			l.SyncHeadersFinished("INBOX", 1, 1)
			l.SyncNewMessage("INBOX", "1", false)
			return nil
		})
		listener.SyncFinished("INBOX")
	}()

	// Assert
	var events []Event
	for e := range listener.Events() {
		events = append(events, e)
	}
	require.Len(t, events, 5)
	assert.Equal(t, EventSyncFinished, events[4].Type)
	assert.NoError(t, ValidateSequence(events))
}

func TestValidateSequence_RejectsEventAfterTerminal(t *testing.T) {
	events := []Event{
		{Type: EventSyncStarted},
		{Type: EventSyncFinished},
		{Type: EventSyncNewMessage},
	}

	assert.Error(t, ValidateSequence(events))
}

func TestValidateSequence_RejectsHeadersFinishedBeforeStarted(t *testing.T) {
	events := []Event{
		{Type: EventSyncStarted},
		{Type: EventSyncHeadersFinished},
	}

	assert.Error(t, ValidateSequence(events))
}
