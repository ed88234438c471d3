package interfaces

// SyncListener receives the progress of one Sync invocation. Events arrive in the order
// started, optional authentication success, headers started, headers progress, headers
// finished, then per-message events and one terminal SyncFinished or SyncFailed.
type SyncListener interface {
	SyncStarted(folderServerID string)
	SyncAuthenticationSuccess()
	SyncHeadersStarted(folderServerID string)
	SyncHeadersProgress(folderServerID string, completed, total int)
	SyncHeadersFinished(folderServerID string, totalMessagesInMailbox, numNewMessages int)
	SyncProgress(folderServerID string, completed, total int)
	SyncNewMessage(folderServerID, messageServerID string, isOldMessage bool)
	SyncRemovedMessage(folderServerID, messageServerID string)
	SyncFlagChanged(folderServerID, messageServerID string)
	SyncFinished(folderServerID string)
	SyncFailed(folderServerID, message string, err error)
	FolderStatusChanged(folderServerID string)
}
