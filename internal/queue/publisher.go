package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) PublishDelivery(ctx context.Context, msg DeliveryMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid delivery message: %w", err)
	}

	return p.publish(ctx, QueueName(msg.Channel), msg.EntryID, PriorityValue(msg.Priority), msg)
}

func (p *RabbitMQPublisher) PublishBroadcast(ctx context.Context, msg BroadcastMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid broadcast message: %w", err)
	}

	return p.publish(ctx, BroadcastQueueName, msg.CampaignID, 0, msg)
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queue, messageID string, priority uint8, body any) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    messageID,
		Priority:     priority,
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", queue, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
