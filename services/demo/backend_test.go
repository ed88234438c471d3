package demo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/repository/memstore"
	"github.com/customeros/mailbackend/services/syncstate"
)

func newSyncedBackend(t *testing.T) (*Backend, *memstore.Storage) {
	t.Helper()
	storage := memstore.New()
	b := NewBackend(&models.Account{UUID: "demo-account"}, storage, logger.NewNopLogger())
	ctx := context.Background()
	require.NoError(t, b.RefreshFolderList(ctx))
	for _, f := range demoFolders {
		recorder := syncstate.NewRecorder()
		b.Sync(ctx, f.serverID, models.SyncConfig{}, recorder)
		require.Equal(t, syncstate.EventSyncFinished, recorder.Last().Type)
	}
	return b, storage
}

func messageIDs(t *testing.T, storage *memstore.Storage, folderServerID string) []string {
	t.Helper()
	folder, ok := storage.Folder(folderServerID)
	require.True(t, ok)
	ids, err := folder.GetMessageServerIDs(context.Background())
	require.NoError(t, err)
	return ids
}

func TestRefreshFolderList(t *testing.T) {
	// Arrange
	storage := memstore.New()
	b := NewBackend(&models.Account{UUID: "demo-account"}, storage, logger.NewNopLogger())

	// Act
	err := b.RefreshFolderList(context.Background())

	// Assert
	require.NoError(t, err)
	ids, _ := storage.GetFolderServerIDs(context.Background())
	assert.ElementsMatch(t, []string{INBOX, DRAFTS, SENT, TRASH, SPAM, ARCHIVE}, ids)
	spam, _ := storage.Folder(SPAM)
	assert.Equal(t, enum.FolderTypeSpam, spam.Type())
}

func TestSync_IsIdempotent(t *testing.T) {
	// Arrange
	b, storage := newSyncedBackend(t)
	recorder := syncstate.NewRecorder()

	// Act
	b.Sync(context.Background(), INBOX, models.SyncConfig{}, recorder)

	// Assert
	require.NoError(t, syncstate.ValidateSequence(recorder.Events()))
	assert.Len(t, messageIDs(t, storage, INBOX), 3)
	assert.NotContains(t, recorder.Types(), syncstate.EventSyncNewMessage)
}

func TestSync_UnknownFolderFails(t *testing.T) {
	// Arrange
	b, _ := newSyncedBackend(t)
	recorder := syncstate.NewRecorder()

	// Act
	b.Sync(context.Background(), "nope", models.SyncConfig{}, recorder)

	// Assert
	assert.Equal(t, []syncstate.EventType{syncstate.EventSyncStarted, syncstate.EventSyncFailed}, recorder.Types())
}

func TestSendMessage_DeliversIntoInbox(t *testing.T) {
	// Arrange
	b, storage := newSyncedBackend(t)
	raw := []byte("From: you@demo.customeros.ai\r\nTo: someone@example.org\r\nSubject: Sent from demo\r\n" +
		"Message-ID: <sent-1@demo.customeros.ai>\r\n\r\nhi")
	before := messageIDs(t, storage, INBOX)

	// Act
	err := b.SendMessage(context.Background(), &models.Message{Raw: raw})

	// Assert
	require.NoError(t, err)
	after := messageIDs(t, storage, INBOX)
	require.Len(t, after, len(before)+1)
	found, err := b.FindByMessageID(context.Background(), INBOX, "sent-1@demo.customeros.ai")
	require.NoError(t, err)
	require.NotEmpty(t, found)
	assert.NotContains(t, before, found)
}

func TestMoveMessages_AssignsFreshIDs(t *testing.T) {
	// Arrange
	b, storage := newSyncedBackend(t)
	ctx := context.Background()

	// Act
	mapping, err := b.MoveMessages(ctx, INBOX, ARCHIVE, []string{"intro", "meeting"})

	// Assert
	require.NoError(t, err)
	require.Len(t, mapping, 2)
	assert.NotEqual(t, "intro", mapping["intro"])
	assert.NotEqual(t, mapping["intro"], mapping["meeting"])
	assert.Equal(t, []string{"invoice"}, messageIDs(t, storage, INBOX))
	assert.ElementsMatch(t, []string{mapping["intro"], mapping["meeting"]}, messageIDs(t, storage, ARCHIVE))
}

func TestCopyMessagesAndMarkAsRead(t *testing.T) {
	// Arrange
	b, storage := newSyncedBackend(t)
	ctx := context.Background()

	// Act
	copied, copyErr := b.CopyMessages(ctx, INBOX, TRASH, []string{"intro"})
	moved, moveErr := b.MoveMessagesAndMarkAsRead(ctx, SPAM, TRASH, []string{"prize"})

	// Assert
	require.NoError(t, copyErr)
	require.NoError(t, moveErr)
	assert.Len(t, messageIDs(t, storage, INBOX), 3)
	assert.Empty(t, messageIDs(t, storage, SPAM))
	trash, _ := storage.Folder(TRASH)
	flags, err := trash.GetMessageFlags(ctx, moved["prize"])
	require.NoError(t, err)
	assert.Contains(t, flags, enum.FlagSeen)
	present, _ := trash.IsMessagePresent(ctx, copied["intro"])
	assert.True(t, present)
}

func TestMoveAndCopy_EmptyInput(t *testing.T) {
	// Arrange
	b := NewBackend(&models.Account{UUID: "demo-account"}, memstore.New(), logger.NewNopLogger())

	// Act
	moved, moveErr := b.MoveMessages(context.Background(), INBOX, TRASH, nil)
	copied, copyErr := b.CopyMessages(context.Background(), INBOX, TRASH, []string{})

	// Assert
	require.NoError(t, moveErr)
	require.NoError(t, copyErr)
	assert.NotNil(t, moved)
	assert.Empty(t, moved)
	assert.NotNil(t, copied)
	assert.Empty(t, copied)
}

func TestSearchAndFlags(t *testing.T) {
	// Arrange
	b, _ := newSyncedBackend(t)
	ctx := context.Background()
	require.NoError(t, b.SetFlag(ctx, INBOX, []string{"intro"}, enum.FlagFlagged, true))

	// Act
	flagged, err := b.Search(ctx, INBOX, "", []enum.Flag{enum.FlagFlagged}, nil, false)
	unseen, _ := b.Search(ctx, INBOX, "", nil, []enum.Flag{enum.FlagSeen}, false)
	byText, _ := b.Search(ctx, INBOX, "nothing leaves", nil, nil, true)
	bySubjectOnly, _ := b.Search(ctx, INBOX, "nothing leaves", nil, nil, false)

	// Assert
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"intro", "meeting"}, flagged)
	assert.ElementsMatch(t, []string{"intro", "meeting"}, unseen)
	assert.Equal(t, []string{"intro"}, byText)
	assert.Empty(t, bySubjectOnly)
}

func TestFetchPart(t *testing.T) {
	// Arrange
	b, storage := newSyncedBackend(t)
	folder, _ := storage.Folder(INBOX)
	message, _, err := folder.GetMessage(context.Background(), "invoice")
	require.NoError(t, err)
	var attachment models.Part
	for _, p := range message.Parts {
		if p.IsAttachment() {
			attachment = p
		}
	}
	require.NotEmpty(t, attachment.ID)

	// Act
	content, err := b.FetchPart(context.Background(), INBOX, "invoice", attachment)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "item,amount\ndemo,0\n", string(content))
}

func TestCapabilitiesAndPush(t *testing.T) {
	b := NewBackend(&models.Account{UUID: "demo-account"}, memstore.New(), logger.NewNopLogger())
	caps := b.Capabilities()

	assert.True(t, caps.Has(enum.SupportsMove))
	assert.True(t, caps.Has(enum.SupportsFlags))
	assert.False(t, caps.Has(enum.PushCapable))
	assert.False(t, caps.Has(enum.SupportsExpunge))
}

func TestStoreURICodec_RoundTrip(t *testing.T) {
	// Arrange
	codec := StoreURICodec{}

	// Act
	settings, err := codec.DecodeStoreURI("demo://")
	require.NoError(t, err)
	uri, err := codec.CreateStoreURI(settings)
	require.NoError(t, err)
	again, err := codec.DecodeStoreURI(uri)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "demo://", uri)
	assert.Equal(t, enum.ServerTypeDemo, settings.Type)
	assert.Equal(t, settings, again)
	_, err = codec.DecodeStoreURI("imap://x")
	assert.Error(t, err)
}
