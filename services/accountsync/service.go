package accountsync

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/services/syncstate"
)

const (
	DEFAULT_FOLDER       = "INBOX"
	DEFAULT_FOLDER_LIMIT = 2
)

type Config struct {
	// Defaults apply to accounts without their own sync preferences
	Defaults models.SyncConfig
	// FolderConcurrency bounds concurrent folder syncs of one account
	FolderConcurrency int
}

type accountSyncService struct {
	accounts interfaces.AccountRepository
	backends interfaces.BackendProvider
	cfg      Config
	log      logger.Logger
}

func NewAccountSyncService(accounts interfaces.AccountRepository, backends interfaces.BackendProvider, cfg Config, log logger.Logger) interfaces.AccountSyncService {
	if cfg.FolderConcurrency <= 0 {
		cfg.FolderConcurrency = DEFAULT_FOLDER_LIMIT
	}
	return &accountSyncService{
		accounts: accounts,
		backends: backends,
		cfg:      cfg,
		log:      log,
	}
}

// SyncFolder runs one sync of folderServerID. listener may be nil. The returned error is
// the folder level failure reported through SyncFailed.
func (s *accountSyncService) SyncFolder(ctx context.Context, accountUUID, folderServerID string, listener interfaces.SyncListener) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountSyncService.SyncFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountUUID)
	tracing.TagFolder(span, folderServerID)

	account, err := s.accounts.GetAccount(ctx, accountUUID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	err = s.syncFolder(ctx, account, folderServerID, listener)
	tracing.TraceErr(span, err)
	return err
}

// SyncAccount refreshes the folder list and syncs every configured folder, then records
// the outcome on the account.
func (s *accountSyncService) SyncAccount(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountSyncService.SyncAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.UUID)

	s.updateStatus(ctx, account.UUID, enum.SyncStatusSyncing, "")

	err := s.syncAccount(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("[%s] account sync failed: %v", account.UUID, err)
		s.updateStatus(ctx, account.UUID, enum.SyncStatusFailed, err.Error())
		return err
	}

	s.updateStatus(ctx, account.UUID, enum.SyncStatusSucceeded, "")
	return nil
}

func (s *accountSyncService) syncAccount(ctx context.Context, account *models.Account) error {
	backend, err := s.backends.GetBackend(ctx, account)
	if err != nil {
		return err
	}

	if err := backend.RefreshFolderList(ctx); err != nil {
		return errors.Wrap(err, "refresh folder list")
	}

	folders := FoldersOf(account)
	failures := make([]string, len(folders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FolderConcurrency)
	for i, folder := range folders {
		g.Go(func() error {
			if err := s.syncFolder(gctx, account, folder, nil); err != nil {
				failures[i] = folder + ": " + err.Error()
				if mailerrors.IsPermanent(err) {
					return errors.Wrap(err, folder)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var failed []string
	for _, f := range failures {
		if f != "" {
			failed = append(failed, f)
		}
	}
	if len(failed) > 0 {
		return mailerrors.NewMessagingError(strings.Join(failed, "; "), nil)
	}
	return nil
}

func (s *accountSyncService) syncFolder(ctx context.Context, account *models.Account, folderServerID string, listener interfaces.SyncListener) error {
	backend, err := s.backends.GetBackend(ctx, account)
	if err != nil {
		return err
	}

	outcome := syncstate.NewRecorder()
	listeners := []interfaces.SyncListener{syncstate.NewLoggingListener(s.log, account.UUID), outcome}
	if listener != nil {
		listeners = append(listeners, listener)
	}

	backend.Sync(ctx, folderServerID, s.syncConfigOf(account), syncstate.Tee(listeners...))

	last := outcome.Last()
	switch last.Type {
	case syncstate.EventSyncFinished:
		return nil
	case syncstate.EventSyncFailed:
		if last.Err != nil {
			return last.Err
		}
		return mailerrors.NewMessagingError(last.Message, nil)
	default:
		return mailerrors.NewMessagingError("sync ended without a terminal event", nil)
	}
}

func (s *accountSyncService) syncConfigOf(account *models.Account) models.SyncConfig {
	if account.SyncConfig != nil {
		return *account.SyncConfig
	}
	return s.cfg.Defaults
}

func (s *accountSyncService) updateStatus(ctx context.Context, accountUUID string, status enum.SyncStatus, message string) {
	if err := s.accounts.UpdateSyncStatus(ctx, accountUUID, status.String(), message); err != nil {
		s.log.Warnf("[%s] could not record sync status %s: %v", accountUUID, status, err)
	}
}

// FoldersOf lists the folders an account syncs, INBOX when none are configured
func FoldersOf(account *models.Account) []string {
	if len(account.SyncFolders) == 0 {
		return []string{DEFAULT_FOLDER}
	}
	return account.SyncFolders
}
