package storage

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/services/storage/aws_client"
)

// ObjectStorageService keeps raw message bodies in an S3 compatible bucket
type ObjectStorageService struct {
	client     aws_client.S3Client
	bucketName string
	keyPrefix  string
}

type StorageConfig struct {
	BucketName string
	// KeyPrefix is prepended to every object key
	KeyPrefix string
}

var _ interfaces.StorageService = (*ObjectStorageService)(nil)

func NewStorageService(client aws_client.S3Client, config StorageConfig) *ObjectStorageService {
	return &ObjectStorageService{
		client:     client,
		bucketName: config.BucketName,
		keyPrefix:  config.KeyPrefix,
	}
}

func (s *ObjectStorageService) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Upload")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("size", len(data))

	err := s.client.Upload(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(s.keyPrefix + key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to upload %s", key)
	}
	return nil
}

func (s *ObjectStorageService) Download(ctx context.Context, key string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Download")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	content, err := s.client.Download(ctx, s.bucketName, s.keyPrefix+key)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to download %s", key)
	}
	return content, nil
}

func (s *ObjectStorageService) Delete(ctx context.Context, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ObjectStorageService.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if err := s.client.Delete(ctx, s.bucketName, s.keyPrefix+key); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to delete %s", key)
	}
	return nil
}
