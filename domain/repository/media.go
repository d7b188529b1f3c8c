package repository

import (
	"context"

	"publish-pipeline/domain/model"
)

// IStorageBackend receives the files that survived preflight.
type IStorageBackend interface {
	Name() string
	// Upload reports one TransferResult per file, in input order.
	Upload(ctx context.Context, files []*model.PendingFile) []model.TransferResult
}

// IMediaConverter turns a non-standard format into a universally decodable one.
type IMediaConverter interface {
	Name() string
	Convert(ctx context.Context, file *model.PendingFile) (*model.ConvertedFile, error)
}

// IMediaCompressor shrinks admitted images before upload.
type IMediaCompressor interface {
	Compress(ctx context.Context, file *model.PendingFile) (*model.ConvertedFile, error)
}

// IPublishNotifier receives finished publish results.
type IPublishNotifier interface {
	Notify(ctx context.Context, event model.PublishEvent) error
}
