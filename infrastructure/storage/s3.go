package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/configuration"
	"publish-pipeline/infrastructure/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectPutter is the part of *s3.Client the backend uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Backend struct {
	name      string
	client    objectPutter
	bucket    string
	publicURL string
}

// NewS3 stores uploads in an S3 compatible bucket. A custom endpoint (R2, MinIO) switches
// the client to path-style addressing.
func NewS3(ctx context.Context, name string, cfg configuration.S3) (repository.IStorageBackend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%s storage: bucket is not configured", name)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Backend(name, client, cfg), nil
}

func newS3Backend(name string, client objectPutter, cfg configuration.S3) *s3Backend {
	public := cfg.PublicURL
	if public == "" {
		public = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return &s3Backend{name: name, client: client, bucket: cfg.Bucket, publicURL: strings.TrimRight(public, "/")}
}

func (b *s3Backend) Name() string { return b.name }

func (b *s3Backend) Upload(ctx context.Context, files []*model.PendingFile) []model.TransferResult {
	return uploadAll(ctx, files, b.put)
}

func (b *s3Backend) put(ctx context.Context, key, contentType string, size int64, body io.Reader) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		logger.GetLogger().WithField("bucket", b.bucket).WithField("key", key).WithField("error", err).Warn("put object failed")
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return b.publicURL + "/" + key, nil
}
