package syncstate

import (
	"sync"

	"go.uber.org/zap"

	"github.com/customeros/mailbackend/interfaces"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
)

type State int

const (
	StateIdle State = iota
	StateStarted
	StateHeadersInProgress
	StateBodiesInProgress
	StateFinished
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:              "Idle",
	StateStarted:           "Started",
	StateHeadersInProgress: "HeadersInProgress",
	StateBodiesInProgress:  "BodiesInProgress",
	StateFinished:          "Finished",
	StateFailed:            "Failed",
}

func (s State) String() string {
	return stateNames[s]
}

func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateFailed
}

// Guard enforces the event order of a single sync invocation on top of any listener.
// Out of order events are dropped, nothing is forwarded after a terminal event.
type Guard struct {
	mu             sync.Mutex
	folderServerID string
	delegate       interfaces.SyncListener
	log            logger.Logger
	state          State
}

func NewGuard(folderServerID string, delegate interfaces.SyncListener, log logger.Logger) *Guard {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Guard{folderServerID: folderServerID, delegate: delegate, log: log, state: StateIdle}
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// advance moves to next when the current state is one of allowed and then runs forward.
// The delegate is called without holding the lock, so it may call back into the guard.
func (g *Guard) advance(event EventType, next State, forward func(), allowed ...State) {
	g.mu.Lock()
	current := g.state
	accepted := false
	for _, s := range allowed {
		if current == s {
			g.state = next
			accepted = true
			break
		}
	}
	g.mu.Unlock()

	if !accepted {
		g.log.Warn("dropping out of order sync event",
			zap.String("folder", g.folderServerID),
			zap.String("event", event.String()),
			zap.String("state", current.String()))
		return
	}
	if g.delegate != nil {
		forward()
	}
}

func (g *Guard) SyncStarted(folderServerID string) {
	g.advance(EventSyncStarted, StateStarted, func() { g.delegate.SyncStarted(folderServerID) }, StateIdle)
}

func (g *Guard) SyncAuthenticationSuccess() {
	g.advance(EventSyncAuthenticationSuccess, StateStarted, func() { g.delegate.SyncAuthenticationSuccess() }, StateStarted)
}

func (g *Guard) SyncHeadersStarted(folderServerID string) {
	g.advance(EventSyncHeadersStarted, StateHeadersInProgress, func() { g.delegate.SyncHeadersStarted(folderServerID) }, StateStarted)
}

func (g *Guard) SyncHeadersProgress(folderServerID string, completed, total int) {
	g.advance(EventSyncHeadersProgress, StateHeadersInProgress, func() {
		g.delegate.SyncHeadersProgress(folderServerID, completed, total)
	}, StateHeadersInProgress)
}

func (g *Guard) SyncHeadersFinished(folderServerID string, totalMessagesInMailbox, numNewMessages int) {
	g.advance(EventSyncHeadersFinished, StateBodiesInProgress, func() {
		g.delegate.SyncHeadersFinished(folderServerID, totalMessagesInMailbox, numNewMessages)
	}, StateHeadersInProgress)
}

func (g *Guard) SyncProgress(folderServerID string, completed, total int) {
	g.advance(EventSyncProgress, StateBodiesInProgress, func() {
		g.delegate.SyncProgress(folderServerID, completed, total)
	}, StateBodiesInProgress)
}

func (g *Guard) SyncNewMessage(folderServerID, messageServerID string, isOldMessage bool) {
	g.advance(EventSyncNewMessage, StateBodiesInProgress, func() {
		g.delegate.SyncNewMessage(folderServerID, messageServerID, isOldMessage)
	}, StateBodiesInProgress)
}

func (g *Guard) SyncRemovedMessage(folderServerID, messageServerID string) {
	g.advance(EventSyncRemovedMessage, StateBodiesInProgress, func() {
		g.delegate.SyncRemovedMessage(folderServerID, messageServerID)
	}, StateBodiesInProgress)
}

func (g *Guard) SyncFlagChanged(folderServerID, messageServerID string) {
	g.advance(EventSyncFlagChanged, StateBodiesInProgress, func() {
		g.delegate.SyncFlagChanged(folderServerID, messageServerID)
	}, StateBodiesInProgress)
}

func (g *Guard) SyncFinished(folderServerID string) {
	g.advance(EventSyncFinished, StateFinished, func() { g.delegate.SyncFinished(folderServerID) },
		StateStarted, StateHeadersInProgress, StateBodiesInProgress)
}

func (g *Guard) SyncFailed(folderServerID, message string, err error) {
	g.advance(EventSyncFailed, StateFailed, func() { g.delegate.SyncFailed(folderServerID, message, err) },
		StateIdle, StateStarted, StateHeadersInProgress, StateBodiesInProgress)
}

// FolderStatusChanged is accepted in every non-terminal state and leaves the state as is
func (g *Guard) FolderStatusChanged(folderServerID string) {
	if g.State().IsTerminal() {
		g.log.Warn("dropping sync event after terminal event",
			zap.String("folder", g.folderServerID),
			zap.String("event", EventFolderStatusChanged.String()))
		return
	}
	if g.delegate != nil {
		g.delegate.FolderStatusChanged(folderServerID)
	}
}

// Terminate emits the terminal event unless one was already sent
func (g *Guard) Terminate(err error) {
	if g.State().IsTerminal() {
		return
	}
	if err == nil {
		g.SyncFinished(g.folderServerID)
		if g.State().IsTerminal() {
			return
		}
		// Finished is not reachable from Idle
		err = mailerrors.NewMessagingError("sync ended before it started", nil)
	}
	g.SyncFailed(g.folderServerID, FailureMessage(err), err)
}

// FailureMessage is the human readable part of a sync error
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var me *mailerrors.MessagingError
	if mailerrors.As(err, &me) {
		return me.Message
	}
	return err.Error()
}
