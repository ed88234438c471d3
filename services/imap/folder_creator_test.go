package imap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbackend/internal/enum"
)

func TestFolderCreator_Create(t *testing.T) {
	addr := newTestServer(t)
	b, _ := newTestBackend(t, addr)
	creator := NewFolderCreator(b)
	ctx := context.Background()

	tests := []struct {
		name       string
		folder     string
		mustCreate bool
		expected   enum.FolderCreateResult
	}{
		{name: "new folder", folder: "Projects", mustCreate: false, expected: enum.FolderCreated},
		{name: "existing folder", folder: "Projects", mustCreate: false, expected: enum.FolderAlreadyExists},
		{name: "must create existing folder", folder: INBOX, mustCreate: true, expected: enum.FolderAlreadyExists},
		{name: "must create new folder", folder: "Receipts", mustCreate: true, expected: enum.FolderCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			result, err := creator.Create(ctx, tt.folder, tt.mustCreate, enum.FolderTypeRegular)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFolderCreator_ConnectionFailure(t *testing.T) {
	// Arrange
	b, _ := newTestBackend(t, "127.0.0.1:1")

	// Act
	result, err := NewFolderCreator(b).Create(context.Background(), "Projects", false, enum.FolderTypeRegular)

	// Assert
	assert.Error(t, err)
	assert.Empty(t, result)
}
