package imap

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/repository/memstore"
	"github.com/customeros/mailbackend/services/syncstate"
)

const (
	testUsername = "username"
	testPassword = "password"
	testSubject  = "A little message, just for you"
)

func newTestServer(t *testing.T) string {
	t.Helper()
	s := server.New(memory.New())
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })
	return l.Addr().String()
}

func testAccount(t *testing.T, addr, password string) *models.Account {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &models.Account{
		UUID: "account-1",
		Incoming: models.ServerSettings{
			Type:               enum.ServerTypeIMAP,
			Host:               host,
			Port:               port,
			ConnectionSecurity: enum.ConnectionSecurityNone,
			AuthenticationType: enum.AuthTypePlain,
			Username:           testUsername,
			Password:           password,
		},
	}
}

func newTestBackend(t *testing.T, addr string) (*Backend, *memstore.Storage) {
	t.Helper()
	storage := memstore.New()
	b := NewBackend(testAccount(t, addr, testPassword), storage, nil, Config{ConnectTimeout: 5 * time.Second}, logger.NewNopLogger())
	t.Cleanup(func() { _ = b.Close() })
	return b, storage
}

// remoteClient opens an independent session for arranging server state
func remoteClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(addr)
	require.NoError(t, err)
	require.NoError(t, c.Login(testUsername, testPassword))
	t.Cleanup(func() { _ = c.Logout() })
	return c
}

func appendMessage(t *testing.T, addr, folder, subject string, flags []string) {
	t.Helper()
	c := remoteClient(t, addr)
	raw := "From: sender@example.org\r\n" +
		"To: contact@example.org\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Wed, 11 May 2016 14:31:59 +0000\r\n" +
		"Message-ID: <" + strings.ReplaceAll(subject, " ", "-") + "@example.org>\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Body of " + subject
	require.NoError(t, c.Append(folder, flags, time.Now(), strings.NewReader(raw)))
}

func syncInbox(t *testing.T, b *Backend, cfg models.SyncConfig) *syncstate.Recorder {
	t.Helper()
	recorder := syncstate.NewRecorder()
	b.Sync(context.Background(), INBOX, cfg, recorder)
	require.NoError(t, syncstate.ValidateSequence(recorder.Events()))
	return recorder
}

func createInbox(t *testing.T, storage *memstore.Storage) {
	t.Helper()
	require.NoError(t, storage.CreateFolders(context.Background(), []models.FolderInfo{
		{ServerID: INBOX, Name: INBOX, Type: enum.FolderTypeInbox},
	}))
}

func eventsOfType(recorder *syncstate.Recorder, eventType syncstate.EventType) []syncstate.Event {
	var result []syncstate.Event
	for _, e := range recorder.Events() {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

func TestRefreshFolderList(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	require.NoError(t, remoteClient(t, addr).Create("Sent"))
	b, storage := newTestBackend(t, addr)
	require.NoError(t, storage.CreateFolders(context.Background(), []models.FolderInfo{
		{ServerID: "Vanished", Name: "Vanished", Type: enum.FolderTypeRegular},
	}))

	// Act
	err := b.RefreshFolderList(context.Background())

	// Assert
	require.NoError(t, err)
	ids, err := storage.GetFolderServerIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{INBOX, "Sent"}, ids)

	inbox, ok := storage.Folder(INBOX)
	require.True(t, ok)
	assert.Equal(t, enum.FolderTypeInbox, inbox.Type())
	sent, ok := storage.Folder("Sent")
	require.True(t, ok)
	assert.Equal(t, enum.FolderTypeSent, sent.Type())
}

func TestSync_DownloadsNewMessages(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)

	// Act
	recorder := syncInbox(t, b, models.SyncConfig{})

	// Assert
	assert.Equal(t, syncstate.EventSyncFinished, recorder.Last().Type)
	assert.Contains(t, recorder.Types(), syncstate.EventSyncAuthenticationSuccess)

	finished := eventsOfType(recorder, syncstate.EventSyncHeadersFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, 1, finished[0].NumNewMessages)

	newMessages := eventsOfType(recorder, syncstate.EventSyncNewMessage)
	require.Len(t, newMessages, 1)
	assert.True(t, newMessages[0].IsOldMessage)

	folder, _ := storage.Folder(INBOX)
	ids, err := folder.GetMessageServerIDs(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	message, state, err := folder.GetMessage(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, enum.DownloadStateFull, state)
	assert.Equal(t, testSubject, message.Subject)
	assert.True(t, message.HasFlag(enum.FlagSeen))

	more, err := folder.GetMoreMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, enum.MoreMessagesFalse, more)
	assert.NotNil(t, folder.LastChecked())
}

func TestSync_SecondRunFindsNothingNew(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	syncInbox(t, b, models.SyncConfig{})

	// Act
	recorder := syncInbox(t, b, models.SyncConfig{})

	// Assert
	finished := eventsOfType(recorder, syncstate.EventSyncHeadersFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, 0, finished[0].NumNewMessages)
	assert.Empty(t, eventsOfType(recorder, syncstate.EventSyncNewMessage))
	assert.Equal(t, syncstate.EventSyncFinished, recorder.Last().Type)
}

func TestSync_UnknownFolderFails(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, _ := newTestBackend(t, addr)
	recorder := syncstate.NewRecorder()

	// Act
	b.Sync(context.Background(), "Unknown", models.SyncConfig{}, recorder)

	// Assert
	assert.Equal(t, []syncstate.EventType{syncstate.EventSyncStarted, syncstate.EventSyncFailed}, recorder.Types())
	assert.ErrorIs(t, recorder.Last().Err, mailerrors.ErrFolderNotFound)
}

func TestSync_ConnectionRefusedFails(t *testing.T) {
	// Arrange
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)

	// Act
	recorder := syncInbox(t, b, models.SyncConfig{})

	// Assert
	last := recorder.Last()
	assert.Equal(t, syncstate.EventSyncFailed, last.Type)
	var me *mailerrors.MessagingError
	assert.ErrorAs(t, last.Err, &me)
	assert.NotContains(t, recorder.Types(), syncstate.EventSyncAuthenticationSuccess)
}

func TestSync_AuthenticationFailure(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	storage := memstore.New()
	createInbox(t, storage)
	b := NewBackend(testAccount(t, addr, "wrong"), storage, nil, Config{}, logger.NewNopLogger())
	recorder := syncstate.NewRecorder()

	// Act
	b.Sync(context.Background(), INBOX, models.SyncConfig{}, recorder)
	checkErr := b.CheckIncomingServerSettings(context.Background())

	// Assert
	assert.Equal(t, syncstate.EventSyncFailed, recorder.Last().Type)
	var authErr *mailerrors.AuthenticationFailedError
	assert.ErrorAs(t, recorder.Last().Err, &authErr)
	assert.ErrorAs(t, checkErr, &authErr)
	assert.True(t, mailerrors.IsPermanent(checkErr))
}

func TestSync_CancelledContextFails(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recorder := syncstate.NewRecorder()

	// Act
	b.Sync(ctx, INBOX, models.SyncConfig{}, recorder)

	// Assert
	assert.Equal(t, syncstate.EventSyncFailed, recorder.Last().Type)
	assert.NoError(t, syncstate.ValidateSequence(recorder.Events()))
}

func TestSync_RemoteDeletionsRemoveLocalMessages(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	syncInbox(t, b, models.SyncConfig{})

	c := remoteClient(t, addr)
	_, err := c.Select(INBOX, false)
	require.NoError(t, err)
	require.NoError(t, c.Store(allMessages(), imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil))
	require.NoError(t, c.Expunge(nil))

	// Act
	recorder := syncInbox(t, b, models.SyncConfig{SyncRemoteDeletions: true})

	// Assert
	assert.Len(t, eventsOfType(recorder, syncstate.EventSyncRemovedMessage), 1)
	folder, _ := storage.Folder(INBOX)
	ids, err := folder.GetMessageServerIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSync_RemoteDeletionsKeepMessagesOutsideWindow(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	appendMessage(t, addr, INBOX, "second", nil)
	appendMessage(t, addr, INBOX, "third", nil)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	cfg := models.SyncConfig{DefaultVisibleLimit: 2, SyncRemoteDeletions: true}
	syncInbox(t, b, cfg)
	folder, _ := storage.Folder(INBOX)
	ctx := context.Background()
	before, err := folder.GetMessageServerIDs(ctx)
	require.NoError(t, err)
	require.Len(t, before, 2)
	appendMessage(t, addr, INBOX, "fourth", nil)

	// Act
	recorder := syncInbox(t, b, cfg)

	// Assert
	assert.Empty(t, eventsOfType(recorder, syncstate.EventSyncRemovedMessage))
	after, err := folder.GetMessageServerIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, after, 3)
	assert.Subset(t, after, before)
}

func TestSync_OnPollExpungeFollowsSyncConfig(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	appendMessage(t, addr, INBOX, "deleted", []string{imap.DeletedFlag})
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)

	// Act
	recorder := syncInbox(t, b, models.SyncConfig{ExpungePolicy: enum.ExpungeOnPoll})

	// Assert
	assert.Equal(t, syncstate.EventSyncFinished, recorder.Last().Type)
	status, err := remoteClient(t, addr).Select(INBOX, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), status.Messages)
}

func TestSync_UidValidityChangeClearsLocalMessages(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	folder, _ := storage.Folder(INBOX)
	ctx := context.Background()
	require.NoError(t, folder.SetFolderExtraNumber(ctx, extraUidValidity, 987654))
	require.NoError(t, folder.SaveMessage(ctx, &models.Message{ServerID: "424242", Subject: "stale"}, enum.DownloadStateFull))

	// Act
	syncInbox(t, b, models.SyncConfig{})

	// Assert
	present, err := folder.IsMessagePresent(ctx, "424242")
	require.NoError(t, err)
	assert.False(t, present)
	validity, err := folder.GetFolderExtraNumber(ctx, extraUidValidity)
	require.NoError(t, err)
	require.NotNil(t, validity)
	assert.NotEqual(t, int64(987654), *validity)
}

func TestSync_LargeMessagesArePartial(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)

	// Act
	syncInbox(t, b, models.SyncConfig{MaxAutoDownloadSize: 1})

	// Assert
	folder, _ := storage.Folder(INBOX)
	ids, _ := folder.GetMessageServerIDs(context.Background())
	require.Len(t, ids, 1)
	message, state, err := folder.GetMessage(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, enum.DownloadStatePartial, state)
	assert.Equal(t, testSubject, message.Subject)
}

func TestSync_VisibleLimitSetsMoreMessages(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	appendMessage(t, addr, INBOX, "second", nil)
	appendMessage(t, addr, INBOX, "third", nil)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)

	// Act
	recorder := syncInbox(t, b, models.SyncConfig{DefaultVisibleLimit: 2})

	// Assert
	folder, _ := storage.Folder(INBOX)
	ids, _ := folder.GetMessageServerIDs(context.Background())
	assert.Len(t, ids, 2)
	more, _ := folder.GetMoreMessages(context.Background())
	assert.Equal(t, enum.MoreMessagesTrue, more)

	newMessages := eventsOfType(recorder, syncstate.EventSyncNewMessage)
	require.Len(t, newMessages, 2)
	for _, e := range newMessages {
		assert.False(t, e.IsOldMessage)
	}
}

func TestSync_FlagChangesAreApplied(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	syncInbox(t, b, models.SyncConfig{})

	c := remoteClient(t, addr)
	_, err := c.Select(INBOX, false)
	require.NoError(t, err)
	require.NoError(t, c.Store(allMessages(), imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.FlaggedFlag}, nil))

	// Act
	recorder := syncInbox(t, b, models.SyncConfig{SyncFlags: []enum.Flag{enum.FlagFlagged}})

	// Assert
	changed := eventsOfType(recorder, syncstate.EventSyncFlagChanged)
	require.Len(t, changed, 1)
	folder, _ := storage.Folder(INBOX)
	flags, err := folder.GetMessageFlags(context.Background(), changed[0].MessageServerID)
	require.NoError(t, err)
	assert.Contains(t, flags, enum.FlagFlagged)
}

func TestSetFlagAndSearch(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	syncInbox(t, b, models.SyncConfig{})
	folder, _ := storage.Folder(INBOX)
	ids, _ := folder.GetMessageServerIDs(context.Background())
	require.Len(t, ids, 1)
	ctx := context.Background()

	// Act
	err := b.SetFlag(ctx, INBOX, ids, enum.FlagFlagged, true)
	flagged, searchErr := b.Search(ctx, INBOX, "", []enum.Flag{enum.FlagFlagged}, nil, false)
	unflagged, _ := b.Search(ctx, INBOX, "", nil, []enum.Flag{enum.FlagFlagged}, false)
	bySubject, _ := b.Search(ctx, INBOX, "little message", nil, nil, false)

	// Assert
	require.NoError(t, err)
	require.NoError(t, searchErr)
	assert.Equal(t, ids, flagged)
	assert.Empty(t, unflagged)
	assert.Equal(t, ids, bySubject)
	flags, _ := folder.GetMessageFlags(ctx, ids[0])
	assert.Contains(t, flags, enum.FlagFlagged)
}

func TestSetFlagClearsFlag(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	syncInbox(t, b, models.SyncConfig{})
	folder, _ := storage.Folder(INBOX)
	ctx := context.Background()
	ids, _ := folder.GetMessageServerIDs(ctx)
	require.Len(t, ids, 1)

	// Act
	err := b.SetFlag(ctx, INBOX, ids, enum.FlagSeen, false)

	// Assert
	require.NoError(t, err)
	seen, err := b.Search(ctx, INBOX, "", []enum.Flag{enum.FlagSeen}, nil, false)
	require.NoError(t, err)
	assert.Empty(t, seen)
	flags, _ := folder.GetMessageFlags(ctx, ids[0])
	assert.NotContains(t, flags, enum.FlagSeen)
}

func TestUploadMessageAndFindByMessageID(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	raw := []byte("From: me@example.org\r\nTo: you@example.org\r\nSubject: uploaded\r\n" +
		"Message-ID: <upload-1@example.org>\r\n\r\nhello")
	ctx := context.Background()

	// Act
	serverID, err := b.UploadMessage(ctx, INBOX, &models.Message{Raw: raw, Flags: []enum.Flag{enum.FlagSeen}})
	found, findErr := b.FindByMessageID(ctx, INBOX, "<upload-1@example.org>")
	missing, _ := b.FindByMessageID(ctx, INBOX, "<nope@example.org>")

	// Assert
	require.NoError(t, err)
	require.NoError(t, findErr)
	assert.NotEmpty(t, serverID)
	assert.Equal(t, serverID, found)
	assert.Empty(t, missing)
	folder, _ := storage.Folder(INBOX)
	present, _ := folder.IsMessagePresent(ctx, serverID)
	assert.True(t, present)
}

func TestMoveAndCopy_EmptyInputDoesNoIO(t *testing.T) {
	// Arrange
	b, _ := newTestBackend(t, "127.0.0.1:1")
	ctx := context.Background()

	// Act
	moved, moveErr := b.MoveMessages(ctx, INBOX, "Archive", nil)
	copied, copyErr := b.CopyMessages(ctx, INBOX, "Archive", []string{})

	// Assert
	require.NoError(t, moveErr)
	require.NoError(t, copyErr)
	assert.NotNil(t, moved)
	assert.Empty(t, moved)
	assert.NotNil(t, copied)
	assert.Empty(t, copied)
}

func TestMoveMessages(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	require.NoError(t, remoteClient(t, addr).Create("Archive"))
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	syncInbox(t, b, models.SyncConfig{})
	folder, _ := storage.Folder(INBOX)
	ids, _ := folder.GetMessageServerIDs(context.Background())
	ctx := context.Background()

	// Act
	moved, err := b.MoveMessages(ctx, INBOX, "Archive", ids)

	// Assert
	require.NoError(t, err)
	assert.Nil(t, moved)
	remaining, err := b.Search(ctx, INBOX, "", nil, []enum.Flag{enum.FlagDeleted}, false)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	archived, err := b.Search(ctx, "Archive", "", nil, nil, false)
	require.NoError(t, err)
	assert.Len(t, archived, 1)
	local, _ := folder.GetMessageServerIDs(ctx)
	assert.Empty(t, local)
}

func TestCopyMessagesKeepsSource(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	require.NoError(t, remoteClient(t, addr).Create("Archive"))
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	syncInbox(t, b, models.SyncConfig{})
	folder, _ := storage.Folder(INBOX)
	ids, _ := folder.GetMessageServerIDs(context.Background())
	ctx := context.Background()

	// Act
	_, err := b.CopyMessages(ctx, INBOX, "Archive", ids)

	// Assert
	require.NoError(t, err)
	source, _ := b.Search(ctx, INBOX, "", nil, nil, false)
	assert.Len(t, source, 1)
	archived, _ := b.Search(ctx, "Archive", "", nil, nil, false)
	assert.Len(t, archived, 1)
}

func TestDeleteMessagesExpungesImmediately(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	syncInbox(t, b, models.SyncConfig{})
	folder, _ := storage.Folder(INBOX)
	ids, _ := folder.GetMessageServerIDs(context.Background())
	ctx := context.Background()

	// Act
	err := b.DeleteMessages(ctx, INBOX, ids)

	// Assert
	require.NoError(t, err)
	remote, _ := b.Search(ctx, INBOX, "", nil, nil, false)
	assert.Empty(t, remote)
	local, _ := folder.GetMessageServerIDs(ctx)
	assert.Empty(t, local)
}

func TestSetFlagFailureLeavesLocalUntouched(t *testing.T) {
	// Arrange
	b, storage := newTestBackend(t, "127.0.0.1:1")
	createInbox(t, storage)
	folder, _ := storage.Folder(INBOX)
	ctx := context.Background()
	require.NoError(t, folder.SaveMessage(ctx, &models.Message{ServerID: "7"}, enum.DownloadStateFull))

	// Act
	err := b.SetFlag(ctx, INBOX, []string{"7"}, enum.FlagSeen, true)

	// Assert
	require.Error(t, err)
	flags, _ := folder.GetMessageFlags(ctx, "7")
	assert.NotContains(t, flags, enum.FlagSeen)
}

func TestFetchPartDecodesTransferEncoding(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	c := remoteClient(t, addr)
	raw := "From: me@example.org\r\nTo: you@example.org\r\nSubject: with attachment\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"b1\"\r\n\r\n" +
		"--b1\r\nContent-Type: text/plain\r\n\r\nsee attached\r\n" +
		"--b1\r\nContent-Type: application/octet-stream\r\n" +
		"Content-Disposition: attachment; filename=\"hello.txt\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\naGVsbG8gd29ybGQ=\r\n" +
		"--b1--\r\n"
	require.NoError(t, c.Append(INBOX, nil, time.Now(), strings.NewReader(raw)))
	b, storage := newTestBackend(t, addr)
	createInbox(t, storage)
	ctx := context.Background()
	uids, err := b.Search(ctx, INBOX, "with attachment", nil, nil, false)
	require.NoError(t, err)
	require.Len(t, uids, 1)

	// Act
	content, err := b.FetchPart(ctx, INBOX, uids[0], models.Part{ID: "2", Encoding: "base64"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "hello world", strings.TrimSpace(string(content)))
}
