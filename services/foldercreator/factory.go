package foldercreator

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/services/imap"
)

// BackendProvider is satisfied by the backend manager
type BackendProvider interface {
	GetBackend(ctx context.Context, account *models.Account) (interfaces.Backend, error)
}

// Factory hands out remote folder creators. Only IMAP accounts can create folders on
// the server, every other account gets a creator that reports AlreadyExists.
type Factory struct {
	backends BackendProvider
	log      logger.Logger
}

var _ interfaces.RemoteFolderCreatorFactory = (*Factory)(nil)

func NewFactory(backends BackendProvider, log logger.Logger) *Factory {
	return &Factory{backends: backends, log: log}
}

func (f *Factory) Create(account *models.Account) interfaces.RemoteFolderCreator {
	if account == nil || !isIMAP(account) {
		return NoOpCreator{}
	}
	return &imapCreator{account: account, backends: f.backends, log: f.log}
}

func isIMAP(account *models.Account) bool {
	if !account.Incoming.IsZero() {
		return account.Incoming.Type == enum.ServerTypeIMAP
	}
	return strings.HasPrefix(account.LegacyStoreURI, "imap")
}

// NoOpCreator never touches a server
type NoOpCreator struct{}

func (NoOpCreator) Create(ctx context.Context, folderServerID string, mustCreate bool, folderType enum.FolderType) (enum.FolderCreateResult, error) {
	return enum.FolderAlreadyExists, nil
}

// imapCreator reuses the account's cached backend connection
type imapCreator struct {
	account  *models.Account
	backends BackendProvider
	log      logger.Logger
}

func (c *imapCreator) Create(ctx context.Context, folderServerID string, mustCreate bool, folderType enum.FolderType) (enum.FolderCreateResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderCreator.Create")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.UUID)
	tracing.TagFolder(span, folderServerID)

	b, err := c.backends.GetBackend(ctx, c.account)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	imapBackend, ok := b.(*imap.Backend)
	if !ok {
		c.log.Warnf("[%s] backend for imap account is %T, folder %s not created", c.account.UUID, b, folderServerID)
		return enum.FolderAlreadyExists, nil
	}

	result, err := imap.NewFolderCreator(imapBackend).Create(ctx, folderServerID, mustCreate, folderType)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	c.log.Infof("[%s][%s] remote folder create: %s", c.account.UUID, folderServerID, result)
	return result, nil
}
