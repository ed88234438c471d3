package pop3

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/internal/utils"
	"github.com/customeros/mailbackend/services/backend"
)

const (
	INBOX = "INBOX"

	DEFAULT_CONNECT_TIMEOUT = 30 * time.Second
)

type Config struct {
	ConnectTimeout     time.Duration
	InsecureSkipVerify bool
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DEFAULT_CONNECT_TIMEOUT
	}
	return c
}

// Backend talks POP3 to the incoming server. POP3 has a single folder, no flags and
// no server side copies; sessions are opened per operation.
type Backend struct {
	accountUUID string
	settings    models.ServerSettings
	storage     interfaces.BackendStorage
	sender      interfaces.MessageSender
	cfg         Config
	dial        Dialer
	log         logger.Logger
}

var _ interfaces.Backend = (*Backend)(nil)

func NewBackend(account *models.Account, storage interfaces.BackendStorage, sender interfaces.MessageSender, cfg Config, log logger.Logger) *Backend {
	return &Backend{
		accountUUID: account.UUID,
		settings:    account.Incoming,
		storage:     storage,
		sender:      sender,
		cfg:         cfg.withDefaults(),
		dial:        dial,
		log:         log,
	}
}

// WithDialer replaces the network transport
func (b *Backend) WithDialer(d Dialer) *Backend {
	b.dial = d
	return b
}

func unsupported(op string) error {
	return mailerrors.NewPermanentMessagingError(fmt.Sprintf("%s is not supported by POP3", op), mailerrors.ErrUnsupportedOperation)
}

func (b *Backend) Capabilities() enum.Capabilities {
	return enum.NewCapabilities()
}

// RefreshFolderList makes INBOX the only local folder
func (b *Backend) RefreshFolderList(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "POP3Backend.RefreshFolderList")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypePOP3.String())

	local, err := b.storage.GetFolderServerIDs(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return mailerrors.Wrap(err, "failed to load local folders")
	}
	if !utils.IsStringInSlice(INBOX, local) {
		if err := b.storage.CreateFolders(ctx, []models.FolderInfo{{ServerID: INBOX, Name: INBOX, Type: enum.FolderTypeInbox}}); err != nil {
			tracing.TraceErr(span, err)
			return mailerrors.Wrap(err, "failed to create inbox")
		}
	}
	if others := utils.Difference(local, []string{INBOX}); len(others) > 0 {
		if err := b.storage.DeleteFolders(ctx, others); err != nil {
			tracing.TraceErr(span, err)
			return mailerrors.Wrap(err, "failed to delete folders")
		}
	}
	return nil
}

func (b *Backend) DownloadMessage(ctx context.Context, syncConfig models.SyncConfig, folderServerID, messageServerID string) error {
	return b.download(ctx, folderServerID, messageServerID, func(size int64) bool {
		return syncConfig.ShouldDownloadFully(size)
	})
}

func (b *Backend) DownloadMessageStructure(ctx context.Context, folderServerID, messageServerID string) error {
	return b.download(ctx, folderServerID, messageServerID, func(int64) bool { return false })
}

func (b *Backend) DownloadCompleteMessage(ctx context.Context, folderServerID, messageServerID string) error {
	return b.download(ctx, folderServerID, messageServerID, func(int64) bool { return true })
}

func (b *Backend) download(ctx context.Context, folderServerID, messageServerID string, full func(size int64) bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "POP3Backend.download")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypePOP3.String())
	tracing.TagFolder(span, folderServerID)

	folder, err := b.inbox(ctx, folderServerID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s, err := b.connect(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	defer s.quit()

	remote, found, err := s.find(messageServerID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !found {
		return mailerrors.NewMessagingError(fmt.Sprintf("message %s not found on server", messageServerID), mailerrors.ErrMessageNotFound)
	}
	return b.store(ctx, s, folder, remote, full(remote.size))
}

// store downloads one message and writes it locally, keeping local flags
func (b *Backend) store(ctx context.Context, s *session, folder interfaces.BackendFolder, remote remoteMessage, full bool) error {
	var raw []byte
	var err error
	state := enum.DownloadStatePartial
	if full {
		raw, err = s.retrieve(remote.number)
		state = enum.DownloadStateFull
	} else {
		raw, err = s.headers(remote.number)
	}
	if err != nil {
		return err
	}

	message, err := models.ParseMessage(remote.uid, raw)
	if err != nil {
		return mailerrors.NewMessagingError("failed to parse message", err)
	}
	message.Size = remote.size
	if flags, err := folder.GetMessageFlags(ctx, remote.uid); err == nil {
		message.Flags = flags
	}
	return mailerrors.Wrap(folder.SaveMessage(ctx, message, state), "failed to store message")
}

func (b *Backend) inbox(ctx context.Context, folderServerID string) (interfaces.BackendFolder, error) {
	if folderServerID != INBOX {
		return nil, mailerrors.NewPermanentMessagingError(fmt.Sprintf("POP3 has no folder %s", folderServerID), mailerrors.ErrFolderNotFound)
	}
	folder, err := b.storage.GetFolder(ctx, INBOX)
	if err != nil {
		return nil, mailerrors.Wrap(err, "failed to load local folder")
	}
	return folder, nil
}

// SetFlag only has a remote effect for DELETED, which issues DELE
func (b *Backend) SetFlag(ctx context.Context, folderServerID string, messageServerIDs []string, flag enum.Flag, value bool) error {
	if len(messageServerIDs) == 0 {
		return nil
	}
	if flag == enum.FlagDeleted && value {
		if err := b.dele(ctx, messageServerIDs); err != nil {
			return err
		}
	}
	folder := b.localFolder(ctx, folderServerID)
	if folder == nil {
		return nil
	}
	for _, id := range messageServerIDs {
		err := folder.SetMessageFlag(ctx, id, flag, value)
		if err != nil && !mailerrors.Is(err, mailerrors.ErrMessageNotFound) {
			return mailerrors.Wrap(err, "failed to store message flag")
		}
	}
	return nil
}

func (b *Backend) localFolder(ctx context.Context, folderServerID string) interfaces.BackendFolder {
	folder, err := b.storage.GetFolder(ctx, folderServerID)
	if err != nil {
		return nil
	}
	return folder
}

// DeleteMessages issues DELE for every message and removes them locally
func (b *Backend) DeleteMessages(ctx context.Context, folderServerID string, messageServerIDs []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "POP3Backend.DeleteMessages")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypePOP3.String())

	if len(messageServerIDs) == 0 {
		return nil
	}
	if err := b.dele(ctx, messageServerIDs); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if folder := b.localFolder(ctx, folderServerID); folder != nil {
		return mailerrors.Wrap(folder.DestroyMessages(ctx, messageServerIDs), "failed to remove local messages")
	}
	return nil
}

func (b *Backend) dele(ctx context.Context, uids []string) error {
	s, err := b.connect(ctx)
	if err != nil {
		return err
	}
	defer s.quit()

	messages, err := s.listMessages()
	if err != nil {
		return err
	}
	var numbers []int
	for _, m := range messages {
		if utils.IsStringInSlice(m.uid, uids) {
			numbers = append(numbers, m.number)
		}
	}
	if len(numbers) == 0 {
		return nil
	}
	if err := s.conn.Dele(numbers...); err != nil {
		return mailerrors.NewMessagingError("DELE failed", err)
	}
	return nil
}

func (b *Backend) MarkAllAsRead(ctx context.Context, folderServerID string) error {
	return unsupported("mark all as read")
}

func (b *Backend) Expunge(ctx context.Context, folderServerID string) error {
	return unsupported("expunge")
}

func (b *Backend) ExpungeMessages(ctx context.Context, folderServerID string, messageServerIDs []string) error {
	return unsupported("expunge")
}

func (b *Backend) DeleteAllMessages(ctx context.Context, folderServerID string) error {
	return unsupported("delete all messages")
}

func (b *Backend) MoveMessages(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error) {
	if len(messageServerIDs) == 0 {
		return map[string]string{}, nil
	}
	return nil, unsupported("move")
}

func (b *Backend) MoveMessagesAndMarkAsRead(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error) {
	return b.MoveMessages(ctx, sourceFolderServerID, targetFolderServerID, messageServerIDs)
}

func (b *Backend) CopyMessages(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error) {
	if len(messageServerIDs) == 0 {
		return map[string]string{}, nil
	}
	return nil, unsupported("copy")
}

func (b *Backend) Search(ctx context.Context, folderServerID, query string, requiredFlags, forbiddenFlags []enum.Flag, performFullTextSearch bool) ([]string, error) {
	return nil, unsupported("search")
}

func (b *Backend) FetchPart(ctx context.Context, folderServerID, messageServerID string, part models.Part) ([]byte, error) {
	return nil, unsupported("fetch part")
}

func (b *Backend) FindByMessageID(ctx context.Context, folderServerID, messageID string) (string, error) {
	return "", unsupported("find by message id")
}

func (b *Backend) UploadMessage(ctx context.Context, folderServerID string, message *models.Message) (string, error) {
	return "", unsupported("upload")
}

func (b *Backend) SendMessage(ctx context.Context, message *models.Message) error {
	if b.sender == nil {
		return unsupported("send")
	}
	return b.sender.Send(ctx, message)
}

func (b *Backend) CheckIncomingServerSettings(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "POP3Backend.CheckIncomingServerSettings")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypePOP3.String())

	s, err := b.connect(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	defer s.quit()

	if _, _, err := s.conn.Stat(); err != nil {
		return mailerrors.NewMessagingError("STAT failed", err)
	}
	// UIDL is required for sync
	if _, err := s.conn.Uidl(0); err != nil {
		return mailerrors.NewPermanentMessagingError("server does not support UIDL", err)
	}
	return nil
}

func (b *Backend) CheckOutgoingServerSettings(ctx context.Context) error {
	if b.sender == nil {
		return unsupported("send")
	}
	return b.sender.CheckSettings(ctx)
}

func (b *Backend) CreatePusher(callback interfaces.BackendPusherCallback) interfaces.BackendPusher {
	return backend.NewUnsupportedPusher(callback)
}

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
	return enum.ServerTypePOP3
}

func (f *Factory) CreateBackend(ctx context.Context, account *models.Account) (interfaces.Backend, error) {
	var sender interfaces.MessageSender
	if f.senders != nil && !account.Outgoing.IsZero() {
		sender = f.senders.CreateSender(account)
	}
	return NewBackend(account, f.storages.CreateBackendStorage(account), sender, f.cfg, f.log), nil
}

func (f *Factory) Registration() backend.Registration {
	return backend.Registration{Factory: f, Codec: StoreURICodec{}, Prefixes: []string{"pop3"}}
}

// StoreURICodec handles pop3[+tls+|+ssl+]://AUTH:user:secret@host:port
type StoreURICodec struct{}

var pop3Ports = utils.DefaultPorts{Plain: 110, SSL: 995}

func (StoreURICodec) DecodeStoreURI(uri string) (models.ServerSettings, error) {
	return utils.DecodeStoreURI("pop3", enum.ServerTypePOP3, pop3Ports, uri)
}

func (StoreURICodec) CreateStoreURI(settings models.ServerSettings) (string, error) {
	return utils.EncodeStoreURI("pop3", settings)
}
