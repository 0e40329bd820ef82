package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type mailMessage struct {
	TransportID string `json:"transportId"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// AMQPNotifier publishes outbound mail to the durable mail queue. Broker
// acceptance of the persistent message is the transport hand-off.
type AMQPNotifier struct {
	client *RabbitMQ
}

func NewAMQPNotifier(client *RabbitMQ) (*AMQPNotifier, error) {
	if client == nil {
		return nil, fmt.Errorf("rabbitmq client is required")
	}
	return &AMQPNotifier{client: client}, nil
}

func (n *AMQPNotifier) Send(ctx context.Context, to, subject, body string) (string, error) {
	if n == nil || n.client == nil {
		return "", fmt.Errorf("notifier is not initialized")
	}
	if strings.TrimSpace(to) == "" {
		return "", fmt.Errorf("recipient address is required")
	}

	transportID := uuid.NewString()
	msg := mailMessage{
		TransportID: transportID,
		To:          strings.TrimSpace(to),
		Subject:     subject,
		Body:        body,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal mail message: %w", err)
	}

	ch, err := n.client.channel(ctx)
	if err != nil {
		return "", err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    transportID,
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", MailQueueName, false, false, publishing); err != nil {
		return "", fmt.Errorf("failed to publish mail message: %w", err)
	}

	return transportID, nil
}

func (n *AMQPNotifier) Close() error {
	if n == nil || n.client == nil {
		return nil
	}
	return n.client.Close()
}
