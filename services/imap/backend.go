package imap

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/utils"
	"github.com/customeros/mailbackend/services/backend"
)

const (
	DEFAULT_CONNECT_TIMEOUT = 30 * time.Second
	DEFAULT_COMMAND_TIMEOUT = 60 * time.Second
	DEFAULT_IMAP_LOGOUT     = 25 * time.Minute
	DEFAULT_POLLING_PERIOD  = 1 * time.Minute
	HEADER_BATCH_SIZE       = 50

	extraUidValidity = "imapUidValidity"
	extraHighestUid  = "imapHighestKnownUid"
)

var capabilities = enum.NewCapabilities(
	enum.SupportsFlags,
	enum.SupportsExpunge,
	enum.SupportsMove,
	enum.SupportsCopy,
	enum.SupportsUpload,
	enum.SupportsTrashFolder,
	enum.SupportsSearchByDate,
	enum.SupportsFolderSubscriptions,
	enum.PushCapable,
)

type Config struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	// InsecureSkipVerify is only meant for tests against self-signed servers
	InsecureSkipVerify bool
	// PushReconnectInterval bounds how often a pusher may reconnect one folder
	PushReconnectInterval time.Duration
	PushReconnectBurst    int
	// ClientCertificates resolves ServerSettings.ClientCertificateAlias
	ClientCertificates map[string]tls.Certificate
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DEFAULT_CONNECT_TIMEOUT
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DEFAULT_COMMAND_TIMEOUT
	}
	if c.PushReconnectInterval <= 0 {
		c.PushReconnectInterval = 30 * time.Second
	}
	if c.PushReconnectBurst <= 0 {
		c.PushReconnectBurst = 3
	}
	return c
}

// Backend is the IMAP implementation of interfaces.Backend. It keeps one cached
// connection for commands; sync and commands on the same account are serialized.
type Backend struct {
	accountUUID   string
	settings      models.ServerSettings
	expungePolicy enum.ExpungePolicy
	storage       interfaces.BackendStorage
	sender        interfaces.MessageSender
	cfg           Config
	log           logger.Logger

	connMutex sync.Mutex
	conn      *connection
}

var _ interfaces.Backend = (*Backend)(nil)

func NewBackend(account *models.Account, storage interfaces.BackendStorage, sender interfaces.MessageSender, cfg Config, log logger.Logger) *Backend {
	policy := enum.ExpungeImmediately
	if account.SyncConfig != nil && account.SyncConfig.ExpungePolicy != "" {
		policy = account.SyncConfig.ExpungePolicy
	}
	return &Backend{
		accountUUID:   account.UUID,
		settings:      account.Incoming,
		expungePolicy: policy,
		storage:       storage,
		sender:        sender,
		cfg:           cfg.withDefaults(),
		log:           log,
	}
}

func (b *Backend) Capabilities() enum.Capabilities {
	return capabilities
}

func (b *Backend) CreatePusher(callback interfaces.BackendPusherCallback) interfaces.BackendPusher {
	return NewPusher(b, callback)
}

func (b *Backend) SendMessage(ctx context.Context, message *models.Message) error {
	if b.sender == nil {
		return backendUnsupported("send")
	}
	return b.sender.Send(ctx, message)
}

func (b *Backend) CheckOutgoingServerSettings(ctx context.Context) error {
	if b.sender == nil {
		return backendUnsupported("send")
	}
	return b.sender.CheckSettings(ctx)
}

// Close logs out the cached connection
func (b *Backend) Close() error {
	b.connMutex.Lock()
	defer b.connMutex.Unlock()
	if b.conn != nil {
		b.conn.logout()
		b.conn = nil
	}
	return nil
}

// Factory builds IMAP backends for accounts
type Factory struct {
	storages interfaces.BackendStorageFactory
	senders  interfaces.MessageSenderFactory
	cfg      Config
	log      logger.Logger
}

func NewFactory(storages interfaces.BackendStorageFactory, senders interfaces.MessageSenderFactory, cfg Config, log logger.Logger) *Factory {
	return &Factory{storages: storages, senders: senders, cfg: cfg, log: log}
}

func (f *Factory) Type() enum.ServerType {
	return enum.ServerTypeIMAP
}

func (f *Factory) CreateBackend(ctx context.Context, account *models.Account) (interfaces.Backend, error) {
	var sender interfaces.MessageSender
	if f.senders != nil && !account.Outgoing.IsZero() {
		sender = f.senders.CreateSender(account)
	}
	return NewBackend(account, f.storages.CreateBackendStorage(account), sender, f.cfg, f.log), nil
}

func (f *Factory) Registration() backend.Registration {
	return backend.Registration{Factory: f, Codec: StoreURICodec{}, Prefixes: []string{"imap"}}
}

// StoreURICodec handles imap[+tls+|+ssl+]://AUTH:user:secret@host:port
type StoreURICodec struct{}

var imapPorts = utils.DefaultPorts{Plain: 143, SSL: 993}

func (StoreURICodec) DecodeStoreURI(uri string) (models.ServerSettings, error) {
	return utils.DecodeStoreURI("imap", enum.ServerTypeIMAP, imapPorts, uri)
}

func (StoreURICodec) CreateStoreURI(settings models.ServerSettings) (string, error) {
	return utils.EncodeStoreURI("imap", settings)
}
