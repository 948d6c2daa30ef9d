package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const userChannelPrefix = "notify:user:"

func userChannel(recipientID int64) string {
	return userChannelPrefix + strconv.FormatInt(recipientID, 10)
}

func recipientFromChannel(channelName string) (int64, bool) {
	raw, ok := strings.CutPrefix(channelName, userChannelPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Pusher publishes in-app notifications to the redis fan-out channel. Going
// through redis instead of the local hub means a notification lands on
// whichever API instance actually holds the user's websocket.
type Pusher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPusher(rdb *redis.Client, logger *zap.Logger) (*Pusher, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pusher{rdb: rdb, logger: logger}, nil
}

func (p *Pusher) Push(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(NewPayload(n))
	if err != nil {
		return fmt.Errorf("failed to marshal realtime payload: %w", err)
	}

	if err := p.rdb.Publish(ctx, userChannel(n.RecipientID), body).Err(); err != nil {
		return fmt.Errorf("failed to publish realtime payload: %w", err)
	}

	p.logger.Debug("realtime payload published",
		zap.String("notificationId", n.ID),
		zap.Int64("recipientId", n.RecipientID),
	)
	return nil
}
