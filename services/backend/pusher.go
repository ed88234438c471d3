package backend

import (
	"context"

	"github.com/customeros/mailbackend/interfaces"
)

type unsupportedPusher struct{}

// NewUnsupportedPusher tells callback right away that push is not available. The
// returned pusher ignores every call.
func NewUnsupportedPusher(callback interfaces.BackendPusherCallback) interfaces.BackendPusher {
	if callback != nil {
		callback.OnPushNotSupported()
	}
	return unsupportedPusher{}
}

func (unsupportedPusher) Start(ctx context.Context)              {}
func (unsupportedPusher) UpdateFolders(folderServerIDs []string) {}
func (unsupportedPusher) Stop()                                  {}
func (unsupportedPusher) Reconnect()                             {}
