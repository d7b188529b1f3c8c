package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/configuration"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const uploadWorkers = 4

// putFunc stores one object and returns its public path.
type putFunc func(ctx context.Context, key, contentType string, size int64, body io.Reader) (string, error)

// objectKey gives every stored file a unique name that keeps the original extension.
func objectKey(f *model.PendingFile) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ToLower(path.Ext(f.Name))
}

// uploadAll runs put for every file with a bounded number of workers.
// Results keep the input order.
func uploadAll(ctx context.Context, files []*model.PendingFile, put putFunc) []model.TransferResult {
	results := make([]model.TransferResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadWorkers)
	for i, f := range files {
		results[i].FileID = f.ID
		g.Go(func() error {
			if f.Source == nil {
				results[i].Err = fmt.Errorf("file %q has no content", f.Name)
				return nil
			}
			rc, err := f.Source.Open()
			if err != nil {
				results[i].Err = err
				return nil
			}
			defer rc.Close()
			key := objectKey(f)
			p, err := put(ctx, key, f.Type, f.Size, rc)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Saved = &model.SavedMedia{ID: key, Name: f.Name, Path: p, Type: f.Type, Size: f.Size}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// New returns the backend named by cfg.StorageProvider.
func New(ctx context.Context, cfg configuration.Media) (repository.IStorageBackend, error) {
	switch cfg.StorageProvider {
	case "", "local":
		return NewLocal(cfg.LocalDir, cfg.PublicURL)
	case "s3", "cloudflare":
		return NewS3(ctx, cfg.StorageProvider, cfg.S3)
	}
	return nil, fmt.Errorf("unknown storage provider %q", cfg.StorageProvider)
}
