package syncstate

import "sync"

// ChannelListener turns listener callbacks into Events on a channel. The channel is
// closed after the terminal event; callbacks block while the channel is full.
type ChannelListener struct {
	events chan Event
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func NewChannelListener(buffer int) *ChannelListener {
	return &ChannelListener{events: make(chan Event, buffer)}
}

func (l *ChannelListener) Events() <-chan Event {
	return l.events
}

func (l *ChannelListener) emit(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.events <- e
	if e.Type.IsTerminal() {
		l.closed = true
		l.once.Do(func() { close(l.events) })
	}
}

func (l *ChannelListener) SyncStarted(folderServerID string) {
	l.emit(Event{Type: EventSyncStarted, FolderServerID: folderServerID})
}

func (l *ChannelListener) SyncAuthenticationSuccess() {
	l.emit(Event{Type: EventSyncAuthenticationSuccess})
}

func (l *ChannelListener) SyncHeadersStarted(folderServerID string) {
	l.emit(Event{Type: EventSyncHeadersStarted, FolderServerID: folderServerID})
}

func (l *ChannelListener) SyncHeadersProgress(folderServerID string, completed, total int) {
	l.emit(Event{Type: EventSyncHeadersProgress, FolderServerID: folderServerID, Completed: completed, Total: total})
}

func (l *ChannelListener) SyncHeadersFinished(folderServerID string, totalMessagesInMailbox, numNewMessages int) {
	l.emit(Event{Type: EventSyncHeadersFinished, FolderServerID: folderServerID, Total: totalMessagesInMailbox, NumNewMessages: numNewMessages})
}

func (l *ChannelListener) SyncProgress(folderServerID string, completed, total int) {
	l.emit(Event{Type: EventSyncProgress, FolderServerID: folderServerID, Completed: completed, Total: total})
}

func (l *ChannelListener) SyncNewMessage(folderServerID, messageServerID string, isOldMessage bool) {
	l.emit(Event{Type: EventSyncNewMessage, FolderServerID: folderServerID, MessageServerID: messageServerID, IsOldMessage: isOldMessage})
}

func (l *ChannelListener) SyncRemovedMessage(folderServerID, messageServerID string) {
	l.emit(Event{Type: EventSyncRemovedMessage, FolderServerID: folderServerID, MessageServerID: messageServerID})
}

func (l *ChannelListener) SyncFlagChanged(folderServerID, messageServerID string) {
	l.emit(Event{Type: EventSyncFlagChanged, FolderServerID: folderServerID, MessageServerID: messageServerID})
}

func (l *ChannelListener) SyncFinished(folderServerID string) {
	l.emit(Event{Type: EventSyncFinished, FolderServerID: folderServerID})
}

func (l *ChannelListener) SyncFailed(folderServerID, message string, err error) {
	l.emit(Event{Type: EventSyncFailed, FolderServerID: folderServerID, Message: message, Err: err})
}

func (l *ChannelListener) FolderStatusChanged(folderServerID string) {
	l.emit(Event{Type: EventFolderStatusChanged, FolderServerID: folderServerID})
}
