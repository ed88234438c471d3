package foldercreator

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/repository/memstore"
	"github.com/customeros/mailbackend/services/imap"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetBackend(ctx context.Context, account *models.Account) (interfaces.Backend, error) {
	args := m.Called(ctx, account)
	b, _ := args.Get(0).(interfaces.Backend)
	return b, args.Error(1)
}

func TestCreate_NonIMAPAccountsAreNoOps(t *testing.T) {
	tests := []struct {
		name    string
		account *models.Account
	}{
		{name: "nil account", account: nil},
		{name: "pop3 account", account: &models.Account{UUID: "a", Incoming: models.ServerSettings{Type: enum.ServerTypePOP3, Host: "pop.example.org"}}},
		{name: "demo legacy uri", account: &models.Account{UUID: "b", LegacyStoreURI: "demo://"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			provider := &mockProvider{}
			factory := NewFactory(provider, logger.NewNopLogger())

			// Act
			result, err := factory.Create(tt.account).Create(context.Background(), "Archive", true, enum.FolderTypeArchive)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, enum.FolderAlreadyExists, result)
			provider.AssertNotCalled(t, "GetBackend", mock.Anything, mock.Anything)
		})
	}
}

func TestCreate_IMAPAccountCreatesOnServer(t *testing.T) {
	// Arrange
	account := imapAccount(t)
	backend := imap.NewBackend(account, memstore.New(), nil, imap.Config{ConnectTimeout: 5 * time.Second}, logger.NewNopLogger())
	t.Cleanup(func() { _ = backend.Close() })
	provider := &mockProvider{}
	provider.On("GetBackend", mock.Anything, account).Return(backend, nil)
	creator := NewFactory(provider, logger.NewNopLogger()).Create(account)

	// Act
	first, err := creator.Create(context.Background(), "Projects", false, enum.FolderTypeRegular)
	require.NoError(t, err)
	second, err := creator.Create(context.Background(), "Projects", false, enum.FolderTypeRegular)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, enum.FolderCreated, first)
	assert.Equal(t, enum.FolderAlreadyExists, second)
	provider.AssertNumberOfCalls(t, "GetBackend", 2)
}

func TestCreate_LegacyIMAPAccountUsesBackend(t *testing.T) {
	// Arrange
	account := &models.Account{UUID: "legacy", LegacyStoreURI: "imap+ssl+://PLAIN:user:pass@imap.example.org"}
	provider := &mockProvider{}
	provider.On("GetBackend", mock.Anything, account).Return(nil, errors.New("dial failed"))
	creator := NewFactory(provider, logger.NewNopLogger()).Create(account)

	// Act
	_, err := creator.Create(context.Background(), "Projects", true, enum.FolderTypeRegular)

	// Assert
	require.Error(t, err)
	provider.AssertExpectations(t)
}

func imapAccount(t *testing.T) *models.Account {
	t.Helper()
	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	host, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &models.Account{
		UUID: "imap-account",
		Incoming: models.ServerSettings{
			Type:               enum.ServerTypeIMAP,
			Host:               host,
			Port:               port,
			ConnectionSecurity: enum.ConnectionSecurityNone,
			AuthenticationType: enum.AuthTypePlain,
			Username:           "username",
			Password:           "password",
		},
	}
}
