package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) Upload(ctx context.Context, input *s3manager.UploadInput) error {
	body, _ := io.ReadAll(input.Body)
	args := m.Called(aws.StringValue(input.Bucket), aws.StringValue(input.Key), string(body), aws.StringValue(input.ContentType))
	return args.Error(0)
}

func (m *mockS3Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	args := m.Called(bucket, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockS3Client) Delete(ctx context.Context, bucket, key string) error {
	args := m.Called(bucket, key)
	return args.Error(0)
}

func TestObjectStorageService_PrefixesKeys(t *testing.T) {
	// Arrange
	client := &mockS3Client{}
	client.On("Upload", "messages", "messages/a/1.eml", "raw", "message/rfc822").Return(nil)
	client.On("Download", "messages", "messages/a/1.eml").Return([]byte("raw"), nil)
	client.On("Delete", "messages", "messages/a/1.eml").Return(nil)
	service := NewStorageService(client, StorageConfig{BucketName: "messages", KeyPrefix: "messages/"})
	ctx := context.Background()

	// Act
	require.NoError(t, service.Upload(ctx, "a/1.eml", []byte("raw"), "message/rfc822"))
	data, err := service.Download(ctx, "a/1.eml")
	require.NoError(t, err)
	require.NoError(t, service.Delete(ctx, "a/1.eml"))

	// Assert
	assert.Equal(t, []byte("raw"), data)
	client.AssertExpectations(t)
}

func TestObjectStorageService_WrapsErrors(t *testing.T) {
	// Arrange
	client := &mockS3Client{}
	client.On("Download", "messages", "missing").Return(nil, errors.New("NoSuchKey"))
	service := NewStorageService(client, StorageConfig{BucketName: "messages"})

	// Act
	data, err := service.Download(context.Background(), "missing")

	// Assert
	assert.Nil(t, data)
	assert.ErrorContains(t, err, "failed to download missing")
}
