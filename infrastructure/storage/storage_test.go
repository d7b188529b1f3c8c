package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/configuration"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(id, name, body string) *model.PendingFile {
	return &model.PendingFile{ID: id, Name: name, Type: "image/png", Size: int64(len(body)), Source: model.BytesSource([]byte(body))}
}

func TestLocal_Upload(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocal(dir, "http://localhost:10001/uploads/")
	require.NoError(t, err)

	res := b.Upload(context.Background(), []*model.PendingFile{pending("1", "a.PNG", "aaa"), pending("2", "b.png", "bb")})
	require.Len(t, res, 2)
	for i, r := range res {
		require.NoError(t, r.Err)
		require.NotNil(t, r.Saved)
		assert.True(t, strings.HasPrefix(r.Saved.Path, "http://localhost:10001/uploads/"), r.Saved.Path)
		assert.True(t, strings.HasSuffix(r.Saved.ID, ".png"))
		assert.Equal(t, []string{"1", "2"}[i], r.FileID)
	}
	raw, err := os.ReadFile(filepath.Join(dir, res[0].Saved.ID))
	require.NoError(t, err)
	assert.Equal(t, "aaa", string(raw))
}

func TestLocal_MissingSource(t *testing.T) {
	b, err := NewLocal(t.TempDir(), "/uploads")
	require.NoError(t, err)

	res := b.Upload(context.Background(), []*model.PendingFile{{ID: "1", Name: "a.png"}})
	assert.Error(t, res[0].Err)
	assert.Nil(t, res[0].Saved)
}

type fakePutter struct {
	mu   sync.Mutex
	keys map[string]string
	fail string
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	raw, _ := io.ReadAll(in.Body)
	if string(raw) == f.fail {
		return nil, errors.New("access denied")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func TestS3_Upload(t *testing.T) {
	p := &fakePutter{keys: map[string]string{}, fail: "bad"}
	b := newS3Backend("cloudflare", p, configuration.S3{Bucket: "media", PublicURL: "https://cdn.example.com/"})

	res := b.Upload(context.Background(), []*model.PendingFile{pending("1", "a.png", "good"), pending("2", "b.png", "bad")})
	require.NoError(t, res[0].Err)
	assert.Equal(t, "https://cdn.example.com/"+res[0].Saved.ID, res[0].Saved.Path)
	assert.Equal(t, "image/png", p.keys[res[0].Saved.ID])
	assert.ErrorContains(t, res[1].Err, "access denied")
	assert.Equal(t, "cloudflare", b.Name())
}

func TestS3_DefaultPublicURL(t *testing.T) {
	b := newS3Backend("s3", &fakePutter{keys: map[string]string{}}, configuration.S3{Bucket: "media", Region: "eu-west-1"})
	assert.Equal(t, "https://media.s3.eu-west-1.amazonaws.com", b.publicURL)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), configuration.Media{StorageProvider: "ftp"})
	assert.Error(t, err)
}
