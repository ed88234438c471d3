package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbackend/api/handlers"
	"github.com/customeros/mailbackend/api/middleware"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/repository/memstore"
	"github.com/customeros/mailbackend/services/accountsync"
	"github.com/customeros/mailbackend/services/backend"
	"github.com/customeros/mailbackend/services/demo"
	"github.com/customeros/mailbackend/services/foldercreator"
	"github.com/customeros/mailbackend/services/syncstate"
)

const testAPIKey = "test-key"

type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func (m *memoryAccounts) GetAccounts(ctx context.Context) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		result = append(result, a)
	}
	return result, nil
}

func (m *memoryAccounts) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, mailerrors.ErrAccountNotFound
	}
	return a, nil
}

func (m *memoryAccounts) SaveAccount(ctx context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account.UUID == "" {
		account.UUID = uuid.NewString()
	}
	m.accounts[account.UUID] = account
	return nil
}

func (m *memoryAccounts) DeleteAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
	return nil
}

func (m *memoryAccounts) UpdateSyncStatus(ctx context.Context, id, status, errorMessage string) error {
	return nil
}

func setupRouter(t *testing.T) (*gin.Engine, *memoryAccounts) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNopLogger()
	accounts := &memoryAccounts{accounts: map[string]*models.Account{}}
	manager := backend.NewManager(log, []backend.Registration{demo.NewFactory(memstore.NewFactory(), log).Registration()})
	t.Cleanup(func() { _ = manager.Close() })

	router := gin.New()
	RegisterRoutes(router, handlers.Dependencies{
		Accounts:      accounts,
		Backends:      manager,
		StoreURIs:     manager,
		Syncer:        accountsync.NewAccountSyncService(accounts, manager, accountsync.Config{}, log),
		FolderCreator: foldercreator.NewFactory(manager, log),
	}, testAPIKey)
	return router, accounts
}

func call(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(middleware.API_KEY_HEADER, testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func demoAccount(accounts *memoryAccounts) *models.Account {
	account := &models.Account{UUID: "demo-1", Email: "demo@example.org", Incoming: models.ServerSettings{Type: enum.ServerTypeDemo}}
	_ = accounts.SaveAccount(context.Background(), account)
	return account
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestV1_RequiresAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"missing", ""},
		{"wrong", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			router, _ := setupRouter(t)
			req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
			if tt.key != "" {
				req.Header.Set(middleware.API_KEY_HEADER, tt.key)
			}
			w := httptest.NewRecorder()

			// Act
			router.ServeHTTP(w, req)

			// Assert
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestCreateAccount(t *testing.T) {
	// Arrange
	router, accounts := setupRouter(t)
	body := map[string]interface{}{
		"email":    "demo@example.org",
		"incoming": map[string]interface{}{"type": "demo"},
	}

	// Act
	w := call(router, http.MethodPost, "/v1/accounts", body)

	// Assert
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Account  models.Account `json:"account"`
		StoreURI string         `json:"storeUri"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "demo://", resp.StoreURI)
	stored, err := accounts.GetAccount(context.Background(), resp.Account.UUID)
	require.NoError(t, err)
	assert.Equal(t, "demo@example.org", stored.Email)
}

func TestCreateAccount_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"invalid email", map[string]interface{}{"email": "not-an-email", "incoming": map[string]interface{}{"type": "demo"}}},
		{"no settings", map[string]interface{}{"email": "user@example.org"}},
		{"bad legacy uri", map[string]interface{}{"email": "user@example.org", "legacyStoreUri": "gopher://example.org"}},
		{"imap without host", map[string]interface{}{"email": "user@example.org", "incoming": map[string]interface{}{"type": "imap"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := setupRouter(t)

			w := call(router, http.MethodPost, "/v1/accounts", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestCapabilities(t *testing.T) {
	// Arrange
	router, accounts := setupRouter(t)
	account := demoAccount(accounts)

	// Act
	w := call(router, http.MethodGet, "/v1/accounts/"+account.UUID+"/backend", nil)

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Capabilities map[string]bool `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Capabilities, "isPushCapable")
}

func TestUnknownAccount(t *testing.T) {
	router, _ := setupRouter(t)

	for _, path := range []string{"/v1/accounts/missing", "/v1/accounts/missing/backend"} {
		w := call(router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w := call(router, http.MethodPost, "/v1/accounts/missing/folders/inbox/sync", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshAndSync(t *testing.T) {
	// Arrange
	router, accounts := setupRouter(t)
	account := demoAccount(accounts)
	require.Equal(t, http.StatusOK, call(router, http.MethodPost, "/v1/accounts/"+account.UUID+"/folders/refresh", nil).Code)

	// Act
	w := call(router, http.MethodPost, "/v1/accounts/"+account.UUID+"/folders/"+demo.INBOX+"/sync", nil)

	// Assert
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Events []syncstate.Event `json:"events"`
		Error  string            `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Events)
	assert.Empty(t, resp.Error)
	assert.Equal(t, syncstate.EventSyncStarted, resp.Events[0].Type)
	assert.Equal(t, syncstate.EventSyncFinished, resp.Events[len(resp.Events)-1].Type)
}

func TestSync_FailureIsReportedWithEvents(t *testing.T) {
	// Arrange
	router, accounts := setupRouter(t)
	account := demoAccount(accounts)

	// Act
	w := call(router, http.MethodPost, "/v1/accounts/"+account.UUID+"/folders/unknown/sync", nil)

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Events []syncstate.Event `json:"events"`
		Error  string            `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, syncstate.EventSyncFailed, resp.Events[len(resp.Events)-1].Type)
}

func TestSendMessage(t *testing.T) {
	// Arrange
	router, accounts := setupRouter(t)
	account := demoAccount(accounts)
	require.Equal(t, http.StatusOK, call(router, http.MethodPost, "/v1/accounts/"+account.UUID+"/folders/refresh", nil).Code)
	body := map[string]interface{}{"to": []string{"friend@example.org"}, "subject": "Hi", "text": "Hello"}

	// Act
	w := call(router, http.MethodPost, "/v1/accounts/"+account.UUID+"/messages", body)

	// Assert
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp struct {
		MessageID string `json:"messageId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.MessageID, "@example.org>")
}

func TestSendMessage_RequiresRecipient(t *testing.T) {
	router, accounts := setupRouter(t)
	account := demoAccount(accounts)

	w := call(router, http.MethodPost, "/v1/accounts/"+account.UUID+"/messages", map[string]interface{}{"subject": "Hi"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateFolder_NonIMAPAlreadyExists(t *testing.T) {
	// Arrange
	router, accounts := setupRouter(t)
	account := demoAccount(accounts)

	// Act
	w := call(router, http.MethodPost, "/v1/accounts/"+account.UUID+"/folders", map[string]interface{}{"folderServerId": "Archive/2024"})

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), enum.FolderAlreadyExists.String())
}

func TestEvictAndDeleteAccount(t *testing.T) {
	// Arrange
	router, accounts := setupRouter(t)
	account := demoAccount(accounts)

	// Act
	evict := call(router, http.MethodDelete, "/v1/accounts/"+account.UUID+"/backend", nil)
	del := call(router, http.MethodDelete, "/v1/accounts/"+account.UUID, nil)

	// Assert
	assert.Equal(t, http.StatusOK, evict.Code)
	assert.Equal(t, http.StatusOK, del.Code)
	_, err := accounts.GetAccount(context.Background(), account.UUID)
	assert.ErrorIs(t, err, mailerrors.ErrAccountNotFound)
}
