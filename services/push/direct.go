package push

import (
	"context"

	"github.com/customeros/mailbackend/interfaces"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
)

// DirectCallbacks syncs pushed folders in process. It is used when no broker is
// configured to fan push events out to workers.
func DirectCallbacks(ctx context.Context, syncer interfaces.AccountSyncService, log logger.Logger) CallbackFactory {
	return func(accountUUID string) interfaces.BackendPusherCallback {
		return &directCallback{ctx: utils.WithAccount(ctx, accountUUID), accountUUID: accountUUID, syncer: syncer, log: log}
	}
}

type directCallback struct {
	ctx         context.Context
	accountUUID string
	syncer      interfaces.AccountSyncService
	log         logger.Logger
}

func (c *directCallback) OnPushEvent(folderServerID string) {
	go func() {
		defer tracing.RecoverAndLogToJaeger(c.log)
		if err := c.syncer.SyncFolder(c.ctx, c.accountUUID, folderServerID, nil); err != nil {
			c.log.Warnf("[%s][%s] pushed sync failed: %v", c.accountUUID, folderServerID, err)
		}
	}()
}

func (c *directCallback) OnPushError(err error) {
	if mailerrors.IsPermanent(err) {
		c.log.Errorf("[%s] push stopped: %v", c.accountUUID, err)
		return
	}
	c.log.Warnf("[%s] push error: %v", c.accountUUID, err)
}

func (c *directCallback) OnPushNotSupported() {
	c.log.Infof("[%s] push not supported by server", c.accountUUID)
}
