package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/logger"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// NewPubSub creates a Pub/Sub client for projectID.
func NewPubSub(ctx context.Context, projectID string, opts ...option.ClientOption) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is not configured")
	}
	return pubsub.NewClient(ctx, projectID, opts...)
}

type publishNotifier struct {
	client    *pubsub.Client
	topicName string

	mu    sync.Mutex
	topic *pubsub.Topic
}

// NewPublishNotifier publishes every finished publish call to topicName, creating the topic
// on first use when it does not exist.
func NewPublishNotifier(client *pubsub.Client, topicName string) repository.IPublishNotifier {
	return &publishNotifier{client: client, topicName: topicName}
}

// ensureTopic caches the topic only once it is known to exist, so a failed lookup is retried.
func (n *publishNotifier) ensureTopic(ctx context.Context) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.topic != nil {
		return n.topic, nil
	}
	topic := n.client.Topic(n.topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		logger.GetLogger().WithField("topic", n.topicName).Info("Topic doesn't exist - creating it")
		if topic, err = n.client.CreateTopic(ctx, n.topicName); err != nil {
			return nil, err
		}
	}
	n.topic = topic
	return topic, nil
}

func (n *publishNotifier) Notify(ctx context.Context, event model.PublishEvent) error {
	topic, err := n.ensureTopic(ctx)
	if err != nil {
		return fmt.Errorf("pubsub topic %s: %w", n.topicName, err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{Data: payload, Attributes: Attributes(event)}
	serverID, err := topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("server ID", serverID).WithField("integration", event.IntegrationID).Info("Message published")
	return nil
}

// Attributes lets subscribers filter without decoding the payload.
func Attributes(event model.PublishEvent) map[string]string {
	status := "failed"
	if event.Succeeded() {
		status = "succeeded"
	}
	return map[string]string{
		"provider":       event.Provider,
		"integration_id": event.IntegrationID,
		"status":         status,
	}
}
