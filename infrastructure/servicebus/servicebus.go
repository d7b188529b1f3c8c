package servicebus

import (
	"context"
	"encoding/json"
	"fmt"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/logger"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// NewServiceBus connects to a namespace (e.g. "myns.servicebus.windows.net") with the default Azure credential chain.
func NewServiceBus(ctx context.Context, namespace string) (*azservicebus.Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("service bus namespace is not configured")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	return azservicebus.NewClient(namespace, cred, nil)
}

type messageSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
}

type publishNotifier struct {
	sender messageSender
	queue  string
}

// NewPublishNotifier sends every finished publish call to queue.
func NewPublishNotifier(client *azservicebus.Client, queue string) (repository.IPublishNotifier, error) {
	sender, err := client.NewSender(queue, nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while making new sender service bus.")
		return nil, err
	}
	return &publishNotifier{sender: sender, queue: queue}, nil
}

func (n *publishNotifier) Notify(ctx context.Context, event model.PublishEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	contentType := "application/json"
	subject := "publish.finished"
	msg := &azservicebus.Message{
		Body:        body,
		ContentType: &contentType,
		Subject:     &subject,
		ApplicationProperties: map[string]interface{}{
			"provider":       event.Provider,
			"integration_id": event.IntegrationID,
			"succeeded":      event.Succeeded(),
		},
	}
	if err := n.sender.SendMessage(ctx, msg, nil); err != nil {
		logger.GetLogger().WithField("queue", n.queue).WithField("error", err).Error("Error while sending message.")
		return err
	}
	return nil
}
