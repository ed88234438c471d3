package demo

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
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

var capabilities = enum.NewCapabilities(
	enum.SupportsFlags,
	enum.SupportsMove,
	enum.SupportsCopy,
	enum.SupportsUpload,
	enum.SupportsTrashFolder,
)

// Backend serves a fixed set of folders and messages. Every mutation only touches local
// storage.
type Backend struct {
	accountUUID string
	storage     interfaces.BackendStorage
	log         logger.Logger
}

var _ interfaces.Backend = (*Backend)(nil)

func NewBackend(account *models.Account, storage interfaces.BackendStorage, log logger.Logger) *Backend {
	return &Backend{accountUUID: account.UUID, storage: storage, log: log}
}

func (b *Backend) Capabilities() enum.Capabilities {
	return capabilities
}

func (b *Backend) RefreshFolderList(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DemoBackend.RefreshFolderList")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeDemo.String())

	local, err := b.storage.GetFolderServerIDs(ctx)
	if err != nil {
		return mailerrors.Wrap(err, "failed to load local folders")
	}
	var missing []models.FolderInfo
	for _, f := range demoFolders {
		if !utils.IsStringInSlice(f.serverID, local) {
			missing = append(missing, models.FolderInfo{ServerID: f.serverID, Name: f.name, Type: f.folderType})
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return mailerrors.Wrap(b.storage.CreateFolders(ctx, missing), "failed to create folders")
}

// Sync stores the demo messages of folderServerID that are not present locally yet
func (b *Backend) Sync(ctx context.Context, folderServerID string, syncConfig models.SyncConfig, listener interfaces.SyncListener) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DemoBackend.Sync")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeDemo.String())
	tracing.TagFolder(span, folderServerID)

	_ = runSync(ctx, b, folderServerID, listener)
}

func (b *Backend) folder(ctx context.Context, folderServerID string) (interfaces.BackendFolder, error) {
	folder, err := b.storage.GetFolder(ctx, folderServerID)
	if err != nil {
		return nil, mailerrors.Wrap(err, "failed to load local folder")
	}
	return folder, nil
}

func demoMessages(folderServerID string) []demoMessage {
	for _, f := range demoFolders {
		if f.serverID == folderServerID {
			return f.messages
		}
	}
	return nil
}

func (b *Backend) DownloadMessage(ctx context.Context, syncConfig models.SyncConfig, folderServerID, messageServerID string) error {
	return nil
}

func (b *Backend) DownloadMessageStructure(ctx context.Context, folderServerID, messageServerID string) error {
	return nil
}

func (b *Backend) DownloadCompleteMessage(ctx context.Context, folderServerID, messageServerID string) error {
	return nil
}

func (b *Backend) SetFlag(ctx context.Context, folderServerID string, messageServerIDs []string, flag enum.Flag, value bool) error {
	if len(messageServerIDs) == 0 {
		return nil
	}
	folder, err := b.folder(ctx, folderServerID)
	if err != nil {
		return err
	}
	for _, id := range messageServerIDs {
		if err := folder.SetMessageFlag(ctx, id, flag, value); err != nil {
			return mailerrors.Wrap(err, "failed to store message flag")
		}
	}
	return nil
}

func (b *Backend) MarkAllAsRead(ctx context.Context, folderServerID string) error {
	folder, err := b.folder(ctx, folderServerID)
	if err != nil {
		return err
	}
	ids, err := folder.GetMessageServerIDs(ctx)
	if err != nil {
		return mailerrors.Wrap(err, "failed to load local messages")
	}
	return b.SetFlag(ctx, folderServerID, ids, enum.FlagSeen, true)
}

func (b *Backend) Expunge(ctx context.Context, folderServerID string) error {
	return backendUnsupported("expunge")
}

func (b *Backend) ExpungeMessages(ctx context.Context, folderServerID string, messageServerIDs []string) error {
	return backendUnsupported("expunge")
}

func (b *Backend) DeleteMessages(ctx context.Context, folderServerID string, messageServerIDs []string) error {
	if len(messageServerIDs) == 0 {
		return nil
	}
	folder, err := b.folder(ctx, folderServerID)
	if err != nil {
		return err
	}
	return mailerrors.Wrap(folder.DestroyMessages(ctx, messageServerIDs), "failed to delete messages")
}

func (b *Backend) DeleteAllMessages(ctx context.Context, folderServerID string) error {
	folder, err := b.folder(ctx, folderServerID)
	if err != nil {
		return err
	}
	return mailerrors.Wrap(folder.ClearAllMessages(ctx), "failed to delete messages")
}

func (b *Backend) MoveMessages(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error) {
	return b.transfer(ctx, sourceFolderServerID, targetFolderServerID, messageServerIDs, true, false)
}

func (b *Backend) MoveMessagesAndMarkAsRead(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error) {
	return b.transfer(ctx, sourceFolderServerID, targetFolderServerID, messageServerIDs, true, true)
}

func (b *Backend) CopyMessages(ctx context.Context, sourceFolderServerID, targetFolderServerID string, messageServerIDs []string) (map[string]string, error) {
	return b.transfer(ctx, sourceFolderServerID, targetFolderServerID, messageServerIDs, false, false)
}

// transfer gives every copied message a fresh server id in the target folder
func (b *Backend) transfer(ctx context.Context, source, target string, messageServerIDs []string, move, markAsRead bool) (map[string]string, error) {
	mapping := make(map[string]string, len(messageServerIDs))
	if len(messageServerIDs) == 0 {
		return mapping, nil
	}

	sourceFolder, err := b.folder(ctx, source)
	if err != nil {
		return nil, err
	}
	targetFolder, err := b.folder(ctx, target)
	if err != nil {
		return nil, err
	}

	for _, id := range messageServerIDs {
		message, state, err := sourceFolder.GetMessage(ctx, id)
		if err != nil {
			if mailerrors.Is(err, mailerrors.ErrMessageNotFound) {
				continue
			}
			return nil, mailerrors.Wrap(err, "failed to load message")
		}
		newID := newServerID()
		message.ServerID = newID
		if markAsRead {
			message.Flags = enum.WithFlag(message.Flags, enum.FlagSeen, true)
		}
		if err := targetFolder.SaveMessage(ctx, message, state); err != nil {
			return nil, mailerrors.Wrap(err, "failed to store message")
		}
		mapping[id] = newID
	}

	if move {
		moved := make([]string, 0, len(mapping))
		for id := range mapping {
			moved = append(moved, id)
		}
		if err := sourceFolder.DestroyMessages(ctx, moved); err != nil {
			return nil, mailerrors.Wrap(err, "failed to remove moved messages")
		}
	}
	return mapping, nil
}

// Search matches subject and sender, and the text preview for full text searches
func (b *Backend) Search(ctx context.Context, folderServerID, query string, requiredFlags, forbiddenFlags []enum.Flag, performFullTextSearch bool) ([]string, error) {
	folder, err := b.folder(ctx, folderServerID)
	if err != nil {
		return nil, err
	}
	ids, err := folder.GetMessageServerIDs(ctx)
	if err != nil {
		return nil, mailerrors.Wrap(err, "failed to load local messages")
	}

	query = strings.ToLower(strings.TrimSpace(query))
	result := make([]string, 0)
	for _, id := range ids {
		message, _, err := folder.GetMessage(ctx, id)
		if err != nil {
			continue
		}
		if !matchesFlags(message.Flags, requiredFlags, forbiddenFlags) {
			continue
		}
		if query != "" {
			haystack := strings.ToLower(message.Subject + " " + message.From)
			if performFullTextSearch {
				haystack += " " + strings.ToLower(message.TextPreview)
			}
			if !strings.Contains(haystack, query) {
				continue
			}
		}
		result = append(result, id)
	}
	return result, nil
}

func matchesFlags(flags, required, forbidden []enum.Flag) bool {
	for _, f := range required {
		if !enum.HasFlag(flags, f) {
			return false
		}
	}
	for _, f := range forbidden {
		if enum.HasFlag(flags, f) {
			return false
		}
	}
	return true
}

// FetchPart returns the decoded content of the part with the position id ParseMessage assigned
func (b *Backend) FetchPart(ctx context.Context, folderServerID, messageServerID string, part models.Part) ([]byte, error) {
	folder, err := b.folder(ctx, folderServerID)
	if err != nil {
		return nil, err
	}
	message, _, err := folder.GetMessage(ctx, messageServerID)
	if err != nil {
		return nil, mailerrors.Wrap(err, "failed to load message")
	}
	env, err := enmime.ReadEnvelope(strings.NewReader(string(message.Raw)))
	if err != nil {
		return nil, mailerrors.NewMessagingError("failed to parse message", err)
	}

	position := 1
	if env.Text != "" {
		if part.ID == fmt.Sprint(position) {
			return []byte(env.Text), nil
		}
		position++
	}
	if env.HTML != "" {
		if part.ID == fmt.Sprint(position) {
			return []byte(env.HTML), nil
		}
		position++
	}
	for _, p := range append(env.Attachments, env.Inlines...) {
		if part.ID == fmt.Sprint(position) {
			return p.Content, nil
		}
		position++
	}
	return nil, mailerrors.NewMessagingError(fmt.Sprintf("part %s not found", part.ID), mailerrors.ErrMessageNotFound)
}

func (b *Backend) FindByMessageID(ctx context.Context, folderServerID, messageID string) (string, error) {
	folder, err := b.folder(ctx, folderServerID)
	if err != nil {
		return "", err
	}
	ids, err := folder.GetMessageServerIDs(ctx)
	if err != nil {
		return "", mailerrors.Wrap(err, "failed to load local messages")
	}
	for _, id := range ids {
		message, _, err := folder.GetMessage(ctx, id)
		if err == nil && utils.SameMessageID(message.MessageID, messageID) {
			return id, nil
		}
	}
	return "", nil
}

func (b *Backend) UploadMessage(ctx context.Context, folderServerID string, message *models.Message) (string, error) {
	return b.store(ctx, folderServerID, message)
}

// SendMessage delivers the message into the demo inbox
func (b *Backend) SendMessage(ctx context.Context, message *models.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DemoBackend.SendMessage")
	defer span.Finish()
	tracing.SetDefaultBackendSpanTags(ctx, span, enum.ServerTypeDemo.String())

	if message != nil && message.MessageID == "" {
		domain := utils.ExtractDomainFromEmail(message.From)
		if domain == "" {
			domain = DEFAULT_MESSAGE_ID_DOMAIN
		}
		message.MessageID = utils.GenerateMessageID(domain, b.accountUUID)
	}

	serverID, err := b.store(ctx, INBOX, message)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	b.log.Infof("[%s] Demo message delivered to inbox as %s", b.accountUUID, serverID)
	return nil
}

func (b *Backend) store(ctx context.Context, folderServerID string, message *models.Message) (string, error) {
	if message == nil {
		return "", mailerrors.NewPermanentMessagingError("no message", nil)
	}
	folder, err := b.folder(ctx, folderServerID)
	if err != nil {
		return "", err
	}

	stored := *message
	if len(message.Raw) > 0 {
		if parsed, err := models.ParseMessage("", message.Raw); err == nil {
			parsed.Flags = message.Flags
			stored = *parsed
		}
	}
	stored.ServerID = newServerID()
	now := utils.Now()
	stored.InternalDate = &now

	if err := folder.SaveMessage(ctx, &stored, enum.DownloadStateFull); err != nil {
		return "", mailerrors.Wrap(err, "failed to store message")
	}
	return stored.ServerID, nil
}

func (b *Backend) CheckIncomingServerSettings(ctx context.Context) error {
	return nil
}

func (b *Backend) CheckOutgoingServerSettings(ctx context.Context) error {
	return nil
}

func (b *Backend) CreatePusher(callback interfaces.BackendPusherCallback) interfaces.BackendPusher {
	return backend.NewUnsupportedPusher(callback)
}

func newServerID() string {
	return uuid.New().String()
}

func backendUnsupported(op string) error {
	return mailerrors.NewPermanentMessagingError(fmt.Sprintf("%s is not supported by the demo backend", op), mailerrors.ErrUnsupportedOperation)
}

type Factory struct {
	storages interfaces.BackendStorageFactory
	log      logger.Logger
}

func NewFactory(storages interfaces.BackendStorageFactory, log logger.Logger) *Factory {
	return &Factory{storages: storages, log: log}
}

func (f *Factory) Type() enum.ServerType {
	return enum.ServerTypeDemo
}

func (f *Factory) CreateBackend(ctx context.Context, account *models.Account) (interfaces.Backend, error) {
	return NewBackend(account, f.storages.CreateBackendStorage(account), f.log), nil
}

func (f *Factory) Registration() backend.Registration {
	return backend.Registration{Factory: f, Codec: StoreURICodec{}, Prefixes: []string{"demo"}}
}

// StoreURICodec maps every demo account to "demo://"
type StoreURICodec struct{}

const storeURI = "demo://"

const DEFAULT_MESSAGE_ID_DOMAIN = "demo.localhost"

func (StoreURICodec) DecodeStoreURI(uri string) (models.ServerSettings, error) {
	if !strings.HasPrefix(uri, "demo:") {
		return models.ServerSettings{}, mailerrors.NewPermanentMessagingError("not a demo store uri", mailerrors.ErrInvalidStoreURI)
	}
	return models.ServerSettings{
		Type:               enum.ServerTypeDemo,
		Host:               "irrelevant",
		Port:               23,
		ConnectionSecurity: enum.ConnectionSecuritySSL,
		AuthenticationType: enum.AuthTypePlain,
		Username:           "irrelevant",
		Password:           "irrelevant",
	}, nil
}

func (StoreURICodec) CreateStoreURI(settings models.ServerSettings) (string, error) {
	return storeURI, nil
}
