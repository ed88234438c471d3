package storage

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"

	"github.com/customeros/mailbackend/internal/config"
	"github.com/customeros/mailbackend/services/storage/aws_client"
)

// NewS3StorageService creates a message store on AWS S3
func NewS3StorageService(awsRegion, accessKeyID, accessKeySecret, bucketName string) (*ObjectStorageService, error) {
	s3Client, err := aws_client.NewS3Client(&aws.Config{
		Region:      aws.String(awsRegion),
		Credentials: credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
	})
	if err != nil {
		return nil, err
	}
	return NewStorageService(s3Client, StorageConfig{BucketName: bucketName}), nil
}

// NewR2StorageService creates a message store on Cloudflare R2
func NewR2StorageService(cfg *config.R2StorageConfig) (*ObjectStorageService, error) {
	r2Client, err := aws_client.NewS3Client(&aws.Config{
		Endpoint:         aws.String("https://" + cfg.AccountID + ".r2.cloudflarestorage.com"),
		Region:           aws.String("auto"),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return NewStorageService(r2Client, StorageConfig{BucketName: cfg.MessageBucket, KeyPrefix: "messages/"}), nil
}
