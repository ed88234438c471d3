package syncstate

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/customeros/mailbackend/interfaces"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
)

// SyncFunc performs the protocol exchange of one sync. It reports everything after
// SyncStarted through listener and returns the folder level error, if any.
type SyncFunc func(ctx context.Context, listener interfaces.SyncListener) error

// Run drives fn behind a Guard so that the caller observes exactly one terminal event,
// also when fn panics or ctx is cancelled while fn believes it succeeded.
func Run(ctx context.Context, folderServerID string, listener interfaces.SyncListener, log logger.Logger, fn SyncFunc) (err error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	guard := NewGuard(folderServerID, listener, log)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[%s] sync panicked: %v\n%s", folderServerID, r, debug.Stack())
			err = mailerrors.NewMessagingError(fmt.Sprintf("sync aborted: %v", r), nil)
		}
		if err == nil && ctx.Err() != nil {
			err = mailerrors.NewMessagingError("sync cancelled", ctx.Err())
		}
		if err != nil {
			log.Warnf("[%s] sync failed: %v", folderServerID, err)
		}
		guard.Terminate(err)
	}()

	guard.SyncStarted(folderServerID)
	if ctx.Err() != nil {
		return mailerrors.NewMessagingError("sync cancelled", ctx.Err())
	}
	return fn(ctx, guard)
}
