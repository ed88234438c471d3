package push

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
)

type mockAccounts struct {
	mock.Mock
	interfaces.AccountRepository
}

func (m *mockAccounts) GetAccounts(ctx context.Context) ([]*models.Account, error) {
	args := m.Called(ctx)
	accounts, _ := args.Get(0).([]*models.Account)
	return accounts, args.Error(1)
}

type fakePusher struct {
	mu      sync.Mutex
	started bool
	stopped bool
	folders []string
}

func (p *fakePusher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
}

func (p *fakePusher) UpdateFolders(folderServerIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.folders = append([]string(nil), folderServerIDs...)
}

func (p *fakePusher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

func (p *fakePusher) Reconnect() {}

type fakeBackend struct {
	interfaces.Backend
	caps    enum.Capabilities
	pushers []*fakePusher
}

func (b *fakeBackend) Capabilities() enum.Capabilities {
	return b.caps
}

func (b *fakeBackend) CreatePusher(callback interfaces.BackendPusherCallback) interfaces.BackendPusher {
	p := &fakePusher{}
	b.pushers = append(b.pushers, p)
	return p
}

type fakeProvider struct {
	backends map[string]interfaces.Backend
}

func (p *fakeProvider) GetBackend(ctx context.Context, account *models.Account) (interfaces.Backend, error) {
	return p.backends[account.UUID], nil
}

func (p *fakeProvider) RemoveBackend(ctx context.Context, account *models.Account) {}

type nopCallback struct{}

func (nopCallback) OnPushEvent(string)  {}
func (nopCallback) OnPushError(error)   {}
func (nopCallback) OnPushNotSupported() {}

func callbacks(string) interfaces.BackendPusherCallback { return nopCallback{} }

func TestSupervisor_RefreshStartsPushCapableOnly(t *testing.T) {
	// Arrange
	pushing := &fakeBackend{caps: enum.NewCapabilities(enum.PushCapable)}
	polling := &fakeBackend{}
	accounts := new(mockAccounts)
	accounts.On("GetAccounts", mock.Anything).Return([]*models.Account{
		{UUID: "imap", SyncFolders: []string{"INBOX", "Work"}},
		{UUID: "pop3"},
	}, nil)
	provider := &fakeProvider{backends: map[string]interfaces.Backend{"imap": pushing, "pop3": polling}}
	s := NewSupervisor(accounts, provider, callbacks, 0, logger.NewNopLogger())

	// Act
	s.Refresh(context.Background())

	// Assert
	assert.Equal(t, []string{"imap"}, s.Running())
	require.Len(t, pushing.pushers, 1)
	assert.True(t, pushing.pushers[0].started)
	assert.Equal(t, []string{"INBOX", "Work"}, pushing.pushers[0].folders)
	assert.Empty(t, polling.pushers)
}

func TestSupervisor_RefreshRetargetsAndStops(t *testing.T) {
	// Arrange
	pushing := &fakeBackend{caps: enum.NewCapabilities(enum.PushCapable)}
	account := &models.Account{UUID: "imap"}
	accounts := new(mockAccounts)
	accounts.On("GetAccounts", mock.Anything).Return([]*models.Account{account}, nil).Once()
	provider := &fakeProvider{backends: map[string]interfaces.Backend{"imap": pushing}}
	s := NewSupervisor(accounts, provider, callbacks, 0, logger.NewNopLogger())
	s.Refresh(context.Background())

	changed := &models.Account{UUID: "imap", SyncFolders: []string{"INBOX", "Sent"}}
	accounts.On("GetAccounts", mock.Anything).Return([]*models.Account{changed}, nil).Once()
	accounts.On("GetAccounts", mock.Anything).Return([]*models.Account{}, nil).Once()

	// Act
	s.Refresh(context.Background())
	retargeted := append([]string(nil), pushing.pushers[0].folders...)
	s.Refresh(context.Background())

	// Assert
	require.Len(t, pushing.pushers, 1)
	assert.Equal(t, []string{"INBOX", "Sent"}, retargeted)
	assert.True(t, pushing.pushers[0].stopped)
	assert.Empty(t, s.Running())
}

func TestSupervisor_BackendChangedRestartsPusher(t *testing.T) {
	// Arrange
	first := &fakeBackend{caps: enum.NewCapabilities(enum.PushCapable)}
	second := &fakeBackend{caps: enum.NewCapabilities(enum.PushCapable)}
	account := &models.Account{UUID: "imap"}
	accounts := new(mockAccounts)
	accounts.On("GetAccounts", mock.Anything).Return([]*models.Account{account}, nil)
	provider := &fakeProvider{backends: map[string]interfaces.Backend{"imap": first}}
	s := NewSupervisor(accounts, provider, callbacks, 0, logger.NewNopLogger())
	s.Refresh(context.Background())

	// Act
	s.OnBackendChanged(account)
	provider.backends["imap"] = second
	s.Refresh(context.Background())

	// Assert
	assert.True(t, first.pushers[0].stopped)
	require.Len(t, second.pushers, 1)
	assert.True(t, second.pushers[0].started)
}

func TestSupervisor_StopEndsEveryPusher(t *testing.T) {
	// Arrange
	pushing := &fakeBackend{caps: enum.NewCapabilities(enum.PushCapable)}
	accounts := new(mockAccounts)
	accounts.On("GetAccounts", mock.Anything).Return([]*models.Account{{UUID: "imap"}}, nil)
	provider := &fakeProvider{backends: map[string]interfaces.Backend{"imap": pushing}}
	s := NewSupervisor(accounts, provider, callbacks, 0, logger.NewNopLogger())
	s.Start(context.Background())

	// Act
	s.Stop()

	// Assert
	require.Len(t, pushing.pushers, 1)
	assert.True(t, pushing.pushers[0].stopped)
	assert.Empty(t, s.Running())
}
