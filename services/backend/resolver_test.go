package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbackend/internal/enum"
	mailerrors "github.com/customeros/mailbackend/internal/errors"
	"github.com/customeros/mailbackend/internal/models"
)

func TestPrefixResolver_FirstMatchWins(t *testing.T) {
	// Arrange
	generic := &countingFactory{serverType: enum.ServerTypeIMAP}
	specific := &countingFactory{serverType: enum.ServerTypeIMAP}
	resolver := NewPrefixResolver(
		PrefixEntry{Prefix: "imap", Factory: generic},
		PrefixEntry{Prefix: "imap+ssl+", Factory: specific},
	)

	// Act
	factory, err := resolver.Resolve(&models.Account{LegacyStoreURI: "imap+ssl+://PLAIN:u:p@host:993"})

	// Assert
	require.NoError(t, err)
	assert.Same(t, generic, factory)
}

func TestPrefixResolver_NoMatch(t *testing.T) {
	resolver := NewPrefixResolver(PrefixEntry{Prefix: "imap", Factory: &countingFactory{serverType: enum.ServerTypeIMAP}})

	_, err := resolver.Resolve(&models.Account{LegacyStoreURI: "webdav://host"})

	var unsupported *mailerrors.UnsupportedAccountTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "webdav", unsupported.Type)
}

func TestChainResolver_PrefersSettings(t *testing.T) {
	imapFactory := &countingFactory{serverType: enum.ServerTypeIMAP}
	pop3Factory := &countingFactory{serverType: enum.ServerTypePOP3}
	chain := ChainResolver{
		NewProtocolResolver(imapFactory, pop3Factory),
		NewPrefixResolver(PrefixEntry{Prefix: "imap", Factory: imapFactory}),
	}

	factory, err := chain.Resolve(&models.Account{
		Incoming:       models.ServerSettings{Type: enum.ServerTypePOP3},
		LegacyStoreURI: "imap://stale",
	})

	require.NoError(t, err)
	assert.Same(t, pop3Factory, factory)
}

func TestUnsupportedPusher_NotifiesOnce(t *testing.T) {
	callback := &countingCallback{}

	pusher := NewUnsupportedPusher(callback)
	pusher.UpdateFolders([]string{"INBOX"})
	pusher.Reconnect()
	pusher.Stop()

	assert.Equal(t, 1, callback.notSupported)
	assert.Zero(t, callback.events)
}

type countingCallback struct {
	notSupported int
	events       int
}

func (c *countingCallback) OnPushEvent(folderServerID string) { c.events++ }
func (c *countingCallback) OnPushError(err error)             { c.events++ }
func (c *countingCallback) OnPushNotSupported()               { c.notSupported++ }
