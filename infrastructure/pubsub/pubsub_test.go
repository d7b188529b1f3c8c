package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/pubsub"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishNotifier(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewPubSub(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	n := pubsub.NewPublishNotifier(client, "publish-results")
	event := model.PublishEvent{
		IntegrationID: "int-1",
		Provider:      "facebook",
		Responses:     []model.PostResponse{{ID: "p1", Status: model.StatusCompleted, PostID: "123"}},
		FinishedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, n.Notify(ctx, event))
	require.NoError(t, n.Notify(ctx, event))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "succeeded", msgs[0].Attributes["status"])
	assert.Equal(t, "facebook", msgs[0].Attributes["provider"])

	var got model.PublishEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "int-1", got.IntegrationID)
	assert.Equal(t, "123", got.Responses[0].PostID)
}

func TestPublishNotifier_RetriesAfterTopicLookupFails(t *testing.T) {
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewPubSub(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	n := pubsub.NewPublishNotifier(client, "publish-results")
	event := model.PublishEvent{
		IntegrationID: "int-1",
		Provider:      "facebook",
		Responses:     []model.PostResponse{{ID: "p1", Status: model.StatusCompleted, PostID: "123"}},
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, n.Notify(cancelled, event))

	require.NoError(t, n.Notify(context.Background(), event))
	assert.Len(t, srv.Messages(), 1)
}

func TestNewPubSub_RequiresProject(t *testing.T) {
	_, err := pubsub.NewPubSub(context.Background(), "")
	assert.Error(t, err)
}

func TestAttributes_Failed(t *testing.T) {
	attrs := pubsub.Attributes(model.PublishEvent{Provider: "ninenine", Responses: []model.PostResponse{{Status: model.StatusFailed}}})
	assert.Equal(t, "failed", attrs["status"])
}
