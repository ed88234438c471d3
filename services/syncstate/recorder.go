package syncstate

import "sync"

// Recorder keeps every event it receives, in order
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Event, len(r.events))
	copy(result, r.events)
	return result
}

func (r *Recorder) Types() []EventType {
	events := r.Events()
	types := make([]EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

// Last returns the most recent event, the zero Event when nothing was recorded
func (r *Recorder) Last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

func (r *Recorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) SyncStarted(folderServerID string) {
	r.record(Event{Type: EventSyncStarted, FolderServerID: folderServerID})
}

func (r *Recorder) SyncAuthenticationSuccess() {
	r.record(Event{Type: EventSyncAuthenticationSuccess})
}

func (r *Recorder) SyncHeadersStarted(folderServerID string) {
	r.record(Event{Type: EventSyncHeadersStarted, FolderServerID: folderServerID})
}

func (r *Recorder) SyncHeadersProgress(folderServerID string, completed, total int) {
	r.record(Event{Type: EventSyncHeadersProgress, FolderServerID: folderServerID, Completed: completed, Total: total})
}

func (r *Recorder) SyncHeadersFinished(folderServerID string, totalMessagesInMailbox, numNewMessages int) {
	r.record(Event{Type: EventSyncHeadersFinished, FolderServerID: folderServerID, Total: totalMessagesInMailbox, NumNewMessages: numNewMessages})
}

func (r *Recorder) SyncProgress(folderServerID string, completed, total int) {
	r.record(Event{Type: EventSyncProgress, FolderServerID: folderServerID, Completed: completed, Total: total})
}

func (r *Recorder) SyncNewMessage(folderServerID, messageServerID string, isOldMessage bool) {
	r.record(Event{Type: EventSyncNewMessage, FolderServerID: folderServerID, MessageServerID: messageServerID, IsOldMessage: isOldMessage})
}

func (r *Recorder) SyncRemovedMessage(folderServerID, messageServerID string) {
	r.record(Event{Type: EventSyncRemovedMessage, FolderServerID: folderServerID, MessageServerID: messageServerID})
}

func (r *Recorder) SyncFlagChanged(folderServerID, messageServerID string) {
	r.record(Event{Type: EventSyncFlagChanged, FolderServerID: folderServerID, MessageServerID: messageServerID})
}

func (r *Recorder) SyncFinished(folderServerID string) {
	r.record(Event{Type: EventSyncFinished, FolderServerID: folderServerID})
}

func (r *Recorder) SyncFailed(folderServerID, message string, err error) {
	r.record(Event{Type: EventSyncFailed, FolderServerID: folderServerID, Message: message, Err: err})
}

func (r *Recorder) FolderStatusChanged(folderServerID string) {
	r.record(Event{Type: EventFolderStatusChanged, FolderServerID: folderServerID})
}
