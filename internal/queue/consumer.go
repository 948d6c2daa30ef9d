package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) ConsumeDeliveries(ctx context.Context, queue string, handler DeliveryHandler) error {
	if handler == nil {
		return fmt.Errorf("delivery handler is required")
	}

	return c.consume(ctx, queue, func(ctx context.Context, body []byte) (bool, error) {
		var msg DeliveryMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return false, fmt.Errorf("invalid JSON: %w", err)
		}
		if err := msg.Validate(); err != nil {
			return false, err
		}
		return true, handler(ctx, msg)
	})
}

func (c *RabbitMQConsumer) ConsumeBroadcasts(ctx context.Context, handler BroadcastHandler) error {
	if handler == nil {
		return fmt.Errorf("broadcast handler is required")
	}

	return c.consume(ctx, BroadcastQueueName, func(ctx context.Context, body []byte) (bool, error) {
		var msg BroadcastMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return false, fmt.Errorf("invalid JSON: %w", err)
		}
		if err := msg.Validate(); err != nil {
			return false, err
		}
		return true, handler(ctx, msg)
	})
}

// decodeFunc reports (valid, handlerErr): invalid payloads are rejected to
// the DLQ, handler errors are requeued.
type decodeFunc func(ctx context.Context, body []byte) (bool, error)

func (c *RabbitMQConsumer) consume(ctx context.Context, queue string, decode decodeFunc) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, decode)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, decode decodeFunc) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, decode); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, decode decodeFunc) error {
	valid, err := decode(ctx, d.Body)
	if !valid {
		c.logger.Warn("rejecting message: invalid payload",
			zap.Error(err),
			zap.String("routingKey", d.RoutingKey),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if err != nil {
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
