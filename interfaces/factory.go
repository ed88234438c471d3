package interfaces

import (
	"context"

	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/models"
)

type BackendFactory interface {
	Type() enum.ServerType
	CreateBackend(ctx context.Context, account *models.Account) (Backend, error)
}

// StoreURICodec converts between server settings and the legacy store uri encoding
type StoreURICodec interface {
	DecodeStoreURI(uri string) (models.ServerSettings, error)
	CreateStoreURI(settings models.ServerSettings) (string, error)
}

// BackendFactoryResolver picks the factory for an account
type BackendFactoryResolver interface {
	Resolve(account *models.Account) (BackendFactory, error)
}

type BackendChangedListener interface {
	OnBackendChanged(account *models.Account)
}

type BackendStorageFactory interface {
	CreateBackendStorage(account *models.Account) BackendStorage
}
