package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/edurelay/notify-engine/internal/domain"
)

// Publisher publishes work messages to the broker.
type Publisher interface {
	PublishDelivery(ctx context.Context, msg DeliveryMessage) error
	PublishBroadcast(ctx context.Context, msg BroadcastMessage) error
	Close() error
}

// DeliveryHandler handles a consumed delivery message.
type DeliveryHandler func(ctx context.Context, msg DeliveryMessage) error

// BroadcastHandler handles a consumed broadcast campaign message.
type BroadcastHandler func(ctx context.Context, msg BroadcastMessage) error

// Consumer consumes work messages from the broker.
type Consumer interface {
	ConsumeDeliveries(ctx context.Context, queue string, handler DeliveryHandler) error
	ConsumeBroadcasts(ctx context.Context, handler BroadcastHandler) error
	Close() error
}

const (
	// BroadcastQueueName carries campaign ids to the broadcast worker.
	BroadcastQueueName = "broadcast"

	// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
	queueMaxPriority int32 = 4
)

// QueueName returns the channel work queue name, e.g. email.
func QueueName(channel domain.Channel) string {
	return strings.ToLower(channel.String())
}

// DLQName returns the dead-letter queue name, e.g. dlq.email.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// DeliveryQueueNames returns the per-channel work queues (3 total).
func DeliveryQueueNames() []string {
	channels := domain.DurableChannels()
	queues := make([]string, 0, len(channels))
	for _, channel := range channels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

// AllQueueNames returns every work queue, broadcast included.
func AllQueueNames() []string {
	return append(DeliveryQueueNames(), BroadcastQueueName)
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityUrgent:
		return 4
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
