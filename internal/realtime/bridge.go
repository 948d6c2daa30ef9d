package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bridge subscribes to the redis fan-out channels and feeds incoming payloads
// into the local hub. Each API instance runs one bridge; messages for users
// connected elsewhere are simply delivered to zero connections here.
type Bridge struct {
	rdb    *redis.Client
	hub    *Hub
	logger *zap.Logger
}

func NewBridge(rdb *redis.Client, hub *Hub, logger *zap.Logger) (*Bridge, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{rdb: rdb, hub: hub, logger: logger}, nil
}

// Run blocks on the subscription until context cancellation.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.rdb.PSubscribe(ctx, userChannelPrefix+"*")
	defer pubsub.Close()

	b.logger.Info("realtime bridge subscribed", zap.String("pattern", userChannelPrefix+"*"))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("realtime subscription closed")
			}
			b.dispatch(msg)
		}
	}
}

func (b *Bridge) dispatch(msg *redis.Message) {
	recipientID, ok := recipientFromChannel(msg.Channel)
	if !ok {
		b.logger.Warn("message on unrecognized realtime channel", zap.String("channel", msg.Channel))
		return
	}

	var payload Payload
	if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
		b.logger.Error("failed to decode realtime payload",
			zap.String("channel", msg.Channel),
			zap.Error(err),
		)
		return
	}

	b.hub.Deliver(recipientID, payload)
}
