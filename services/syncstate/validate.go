package syncstate

import "fmt"

// ValidateSequence checks that events form a valid, possibly incomplete, sync run.
// It replays them through a Guard and reports the first event the guard would drop.
func ValidateSequence(events []Event) error {
	g := NewGuard("", nil, nil)
	for i, e := range events {
		before := g.State()
		accepted := apply(g, e)
		if !accepted {
			return fmt.Errorf("event %d (%s) not allowed in state %s", i, e.Type, before)
		}
	}
	return nil
}

func apply(g *Guard, e Event) bool {
	before := g.State()
	if before.IsTerminal() {
		return false
	}
	switch e.Type {
	case EventSyncStarted:
		g.SyncStarted(e.FolderServerID)
	case EventSyncAuthenticationSuccess:
		g.SyncAuthenticationSuccess()
		return before == StateStarted
	case EventSyncHeadersStarted:
		g.SyncHeadersStarted(e.FolderServerID)
	case EventSyncHeadersProgress:
		g.SyncHeadersProgress(e.FolderServerID, e.Completed, e.Total)
		return before == StateHeadersInProgress
	case EventSyncHeadersFinished:
		g.SyncHeadersFinished(e.FolderServerID, e.Total, e.NumNewMessages)
	case EventSyncProgress, EventSyncNewMessage, EventSyncRemovedMessage, EventSyncFlagChanged:
		return before == StateBodiesInProgress
	case EventSyncFinished:
		g.SyncFinished(e.FolderServerID)
	case EventSyncFailed:
		g.SyncFailed(e.FolderServerID, e.Message, e.Err)
	case EventFolderStatusChanged:
		return true
	default:
		return false
	}
	return g.State() != before
}
