package syncstate

import (
	"go.uber.org/zap"

	"github.com/customeros/mailbackend/internal/logger"
)

// LoggingListener writes sync progress to the app logger
type LoggingListener struct {
	log logger.Logger
}

func NewLoggingListener(log logger.Logger, accountUUID string) *LoggingListener {
	return &LoggingListener{log: log.With(zap.String("account", accountUUID))}
}

func (l *LoggingListener) SyncStarted(folderServerID string) {
	l.log.Info("sync started", zap.String("folder", folderServerID))
}

func (l *LoggingListener) SyncAuthenticationSuccess() {
	l.log.Debug("authenticated")
}

func (l *LoggingListener) SyncHeadersStarted(folderServerID string) {
	l.log.Debug("fetching headers", zap.String("folder", folderServerID))
}

func (l *LoggingListener) SyncHeadersProgress(folderServerID string, completed, total int) {
	l.log.Debug("header progress", zap.String("folder", folderServerID), zap.Int("completed", completed), zap.Int("total", total))
}

func (l *LoggingListener) SyncHeadersFinished(folderServerID string, totalMessagesInMailbox, numNewMessages int) {
	l.log.Info("headers synced",
		zap.String("folder", folderServerID),
		zap.Int("totalMessages", totalMessagesInMailbox),
		zap.Int("newMessages", numNewMessages))
}

func (l *LoggingListener) SyncProgress(folderServerID string, completed, total int) {
	l.log.Debug("body progress", zap.String("folder", folderServerID), zap.Int("completed", completed), zap.Int("total", total))
}

func (l *LoggingListener) SyncNewMessage(folderServerID, messageServerID string, isOldMessage bool) {
	l.log.Debug("new message", zap.String("folder", folderServerID), zap.String("message", messageServerID), zap.Bool("old", isOldMessage))
}

func (l *LoggingListener) SyncRemovedMessage(folderServerID, messageServerID string) {
	l.log.Debug("removed message", zap.String("folder", folderServerID), zap.String("message", messageServerID))
}

func (l *LoggingListener) SyncFlagChanged(folderServerID, messageServerID string) {
	l.log.Debug("flags changed", zap.String("folder", folderServerID), zap.String("message", messageServerID))
}

func (l *LoggingListener) SyncFinished(folderServerID string) {
	l.log.Info("sync finished", zap.String("folder", folderServerID))
}

func (l *LoggingListener) SyncFailed(folderServerID, message string, err error) {
	l.log.Error("sync failed", zap.String("folder", folderServerID), zap.String("reason", message), zap.Error(err))
}

func (l *LoggingListener) FolderStatusChanged(folderServerID string) {
	l.log.Debug("folder status changed", zap.String("folder", folderServerID))
}
