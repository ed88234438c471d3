package handlers

import (
	"github.com/customeros/mailbackend/interfaces"
)

type Dependencies struct {
	Accounts      interfaces.AccountRepository
	Backends      interfaces.BackendProvider
	StoreURIs     interfaces.StoreURICodec
	Syncer        interfaces.AccountSyncService
	FolderCreator interfaces.RemoteFolderCreatorFactory
}

type APIHandlers struct {
	Accounts *AccountsHandler
	Backends *BackendsHandler
}

func InitHandlers(deps Dependencies) *APIHandlers {
	return &APIHandlers{
		Accounts: NewAccountsHandler(deps.Accounts, deps.Backends, deps.StoreURIs),
		Backends: NewBackendsHandler(deps),
	}
}
