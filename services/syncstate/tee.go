package syncstate

import "github.com/customeros/mailbackend/interfaces"

type tee []interfaces.SyncListener

// Tee forwards every event to all listeners in order
func Tee(listeners ...interfaces.SyncListener) interfaces.SyncListener {
	return tee(listeners)
}

func (t tee) SyncStarted(f string) {
	for _, l := range t {
		l.SyncStarted(f)
	}
}

func (t tee) SyncAuthenticationSuccess() {
	for _, l := range t {
		l.SyncAuthenticationSuccess()
	}
}

func (t tee) SyncHeadersStarted(f string) {
	for _, l := range t {
		l.SyncHeadersStarted(f)
	}
}

func (t tee) SyncHeadersProgress(f string, completed, total int) {
	for _, l := range t {
		l.SyncHeadersProgress(f, completed, total)
	}
}

func (t tee) SyncHeadersFinished(f string, totalMessagesInMailbox, numNewMessages int) {
	for _, l := range t {
		l.SyncHeadersFinished(f, totalMessagesInMailbox, numNewMessages)
	}
}

func (t tee) SyncProgress(f string, completed, total int) {
	for _, l := range t {
		l.SyncProgress(f, completed, total)
	}
}

func (t tee) SyncNewMessage(f, m string, isOldMessage bool) {
	for _, l := range t {
		l.SyncNewMessage(f, m, isOldMessage)
	}
}

func (t tee) SyncRemovedMessage(f, m string) {
	for _, l := range t {
		l.SyncRemovedMessage(f, m)
	}
}

func (t tee) SyncFlagChanged(f, m string) {
	for _, l := range t {
		l.SyncFlagChanged(f, m)
	}
}

func (t tee) SyncFinished(f string) {
	for _, l := range t {
		l.SyncFinished(f)
	}
}

func (t tee) SyncFailed(f, message string, err error) {
	for _, l := range t {
		l.SyncFailed(f, message, err)
	}
}

func (t tee) FolderStatusChanged(f string) {
	for _, l := range t {
		l.FolderStatusChanged(f)
	}
}
