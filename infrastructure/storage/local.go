package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/logger"
)

type localBackend struct {
	dir       string
	publicURL string
}

// NewLocal stores uploads under dir and serves them from publicURL.
func NewLocal(dir, publicURL string) (repository.IStorageBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &localBackend{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (b *localBackend) Name() string { return "local" }

func (b *localBackend) Upload(ctx context.Context, files []*model.PendingFile) []model.TransferResult {
	return uploadAll(ctx, files, b.put)
}

func (b *localBackend) put(ctx context.Context, key, contentType string, size int64, body io.Reader) (string, error) {
	target := filepath.Join(b.dir, key)
	out, err := os.Create(target)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	logger.GetLogger().WithField("key", key).WithField("bytes", n).Debug("stored on local disk")
	return b.publicURL + "/" + key, nil
}
