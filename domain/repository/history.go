package repository

import (
	"context"

	"publish-pipeline/domain/model"
)

// IPublishHistory records every finished batch and serves it back per integration.
type IPublishHistory interface {
	IPublishNotifier
	ListByIntegration(ctx context.Context, integrationID string, limit int) ([]*model.PublishRecord, error)
}
