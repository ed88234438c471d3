package memstore

import (
	"sync"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/models"
)

// Factory hands out one Storage per account and keeps it across backend rebuilds
type Factory struct {
	mu       sync.Mutex
	storages map[string]*Storage
}

func NewFactory() *Factory {
	return &Factory{storages: make(map[string]*Storage)}
}

func (f *Factory) CreateBackendStorage(account *models.Account) interfaces.BackendStorage {
	return f.Storage(account.UUID)
}

func (f *Factory) Storage(accountUUID string) *Storage {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.storages[accountUUID]
	if !ok {
		s = New()
		f.storages[accountUUID] = s
	}
	return s
}
