package service

import (
	"context"
	"fmt"
	"time"

	"github.com/edurelay/notify-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetentionInterval = time.Hour
	defaultRetentionWindow   = 90 * 24 * time.Hour
)

// RetentionService purges archived notifications past the retention window on
// a slow ticker. Only archived rows are eligible; the inbox itself is never
// aged out.
type RetentionService struct {
	notifications repository.NotificationRepository
	logger        *zap.Logger
	interval      time.Duration
	window        time.Duration
	now           func() time.Time
}

func NewRetentionService(
	notifications repository.NotificationRepository,
	window time.Duration,
	logger *zap.Logger,
) (*RetentionService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if window <= 0 {
		window = defaultRetentionWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetentionService{
		notifications: notifications,
		logger:        logger,
		interval:      defaultRetentionInterval,
		window:        window,
		now:           time.Now,
	}, nil
}

func (s *RetentionService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.purge(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retention purge failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.purge(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retention purge failed", zap.Error(err))
			}
		}
	}
}

func (s *RetentionService) purge(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.window)
	purged, err := s.notifications.PurgeArchivedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge archived notifications: %w", err)
	}

	if purged > 0 {
		s.logger.Info("archived notifications purged",
			zap.Int64("count", purged),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}
