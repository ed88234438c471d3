package interfaces

import "context"

// BackendPusher is owned by whoever created it. UpdateFolders may be called from any
// goroutine and re-targets a running pusher.
type BackendPusher interface {
	Start(ctx context.Context)
	UpdateFolders(folderServerIDs []string)
	Stop()
	Reconnect()
}

type BackendPusherCallback interface {
	OnPushEvent(folderServerID string)
	OnPushError(err error)
	OnPushNotSupported()
}
