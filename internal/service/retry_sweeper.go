package service

import (
	"context"
	"fmt"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/queue"
	"github.com/edurelay/notify-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 5 * time.Second
	defaultSweepLimit    = 100

	// redeliveryGrace is how far a published entry's due time is pushed out so
	// consecutive sweeps do not republish it before the broker delivers.
	redeliveryGrace = 30 * time.Second
)

// RetrySweeper periodically republishes due pending delivery entries: fresh
// retries whose backoff has elapsed, and entries whose original publish was
// lost.
type RetrySweeper struct {
	deliveries repository.DeliveryRepository
	publisher  queue.Publisher
	logger     *zap.Logger
	interval   time.Duration
	limit      int
	now        func() time.Time
}

func NewRetrySweeper(
	deliveries repository.DeliveryRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetrySweeper, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetrySweeper{
		deliveries: deliveries,
		publisher:  publisher,
		logger:     logger,
		interval:   interval,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (s *RetrySweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial sweep so already-due entries do not wait for the first ticker edge.
	if err := s.sweepDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweepDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry sweeper sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *RetrySweeper) sweepDue(ctx context.Context) error {
	now := s.now().UTC()
	dueEntries, err := s.deliveries.GetDue(ctx, now, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due delivery entries: %w", err)
	}

	for i := range dueEntries {
		entry := dueEntries[i]
		// Republished entries go out at normal priority; the original urgency
		// already had its chance on the first publish.
		msg := queue.DeliveryMessage{
			EntryID:        entry.ID,
			NotificationID: entry.NotificationID,
			Channel:        entry.Channel,
			Priority:       domain.PriorityNormal,
		}

		if err := s.publisher.PublishDelivery(ctx, msg); err != nil {
			s.logger.Error("failed to republish delivery entry",
				zap.String("entryId", entry.ID),
				zap.String("channel", entry.Channel.String()),
				zap.Error(err),
			)
			continue
		}

		if err := s.deliveries.DeferRedelivery(ctx, entry.ID, now.Add(redeliveryGrace)); err != nil {
			s.logger.Error("failed to defer republished entry",
				zap.String("entryId", entry.ID),
				zap.Error(err),
			)
			continue
		}
	}

	return nil
}
