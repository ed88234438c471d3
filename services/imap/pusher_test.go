package imap

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/repository/memstore"
)

type recordingCallback struct {
	mu           sync.Mutex
	events       []string
	errs         []error
	notSupported int
}

func (c *recordingCallback) OnPushEvent(folderServerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, folderServerID)
}

func (c *recordingCallback) OnPushError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *recordingCallback) OnPushNotSupported() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notSupported++
}

func (c *recordingCallback) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

// blockingIdle counts sessions per folder and idles until stopped
type blockingIdle struct {
	sessions atomic.Int64
}

func (i *blockingIdle) idle(c *client.Client, stop <-chan struct{}) error {
	i.sessions.Add(1)
	<-stop
	return nil
}

func TestPusher_AuthenticationFailureReportsError(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b := NewBackend(testAccount(t, addr, "wrong"), memstore.New(), nil, Config{}, logger.NewNopLogger())
	callback := &recordingCallback{}
	pusher := b.CreatePusher(callback)

	// Act
	pusher.UpdateFolders([]string{INBOX})
	pusher.Start(context.Background())
	defer pusher.Stop()

	// Assert
	require.Eventually(t, func() bool { return callback.errCount() == 1 }, 5*time.Second, 20*time.Millisecond)
	var authErr *mailerrors.AuthenticationFailedError
	assert.ErrorAs(t, callback.errs[0], &authErr)
}

func TestPusher_UpdateFoldersStartsAndStopsSessions(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	require.NoError(t, remoteClient(t, addr).Create("Archive"))
	b, _ := newTestBackend(t, addr)
	idle := &blockingIdle{}
	pusher := NewPusher(b, &recordingCallback{})
	pusher.idle = idle.idle
	pusher.Start(context.Background())

	// Act
	pusher.UpdateFolders([]string{INBOX})
	require.Eventually(t, func() bool { return idle.sessions.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	pusher.UpdateFolders([]string{INBOX, "Archive"})
	require.Eventually(t, func() bool { return idle.sessions.Load() == 2 }, 5*time.Second, 20*time.Millisecond)
	pusher.UpdateFolders([]string{"Archive"})

	// Assert
	pusher.mu.Lock()
	_, inboxRunning := pusher.folders[INBOX]
	_, archiveRunning := pusher.folders["Archive"]
	pusher.mu.Unlock()
	assert.False(t, inboxRunning)
	assert.True(t, archiveRunning)

	done := make(chan struct{})
	go func() {
		pusher.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestPusher_ReconnectOpensNewSession(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, _ := newTestBackend(t, addr)
	idle := &blockingIdle{}
	pusher := NewPusher(b, &recordingCallback{})
	pusher.idle = idle.idle
	pusher.UpdateFolders([]string{INBOX})
	pusher.Start(context.Background())
	defer pusher.Stop()
	require.Eventually(t, func() bool { return idle.sessions.Load() == 1 }, 5*time.Second, 20*time.Millisecond)

	// Act
	pusher.Reconnect()

	// Assert
	assert.Eventually(t, func() bool { return idle.sessions.Load() == 2 }, 5*time.Second, 20*time.Millisecond)
}

func TestPusher_StartAfterStopResumesFolders(t *testing.T) {
	// Arrange
	addr := newTestServer(t)
	b, _ := newTestBackend(t, addr)
	idle := &blockingIdle{}
	pusher := NewPusher(b, &recordingCallback{})
	pusher.idle = idle.idle
	pusher.UpdateFolders([]string{INBOX})
	pusher.Start(context.Background())
	require.Eventually(t, func() bool { return idle.sessions.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	pusher.Stop()

	// Act
	pusher.Start(context.Background())
	defer pusher.Stop()

	// Assert
	assert.Eventually(t, func() bool { return idle.sessions.Load() == 2 }, 5*time.Second, 20*time.Millisecond)
	pusher.mu.Lock()
	defer pusher.mu.Unlock()
	assert.Contains(t, pusher.folders, INBOX)
}
