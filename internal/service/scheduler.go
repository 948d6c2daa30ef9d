package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultScheduleSweepInterval = 5 * time.Second
	defaultScheduleSweepLimit    = 100
	maxScheduleRecipients        = 1000
)

// ScheduleInput describes one deferred send: a message for a set of recipients
// at a future point in time.
type ScheduleInput struct {
	RecipientIDs      []int64
	Type              domain.Type
	Priority          domain.Priority
	Title             string
	Message           string
	Channels          []domain.Channel
	SendAt            time.Time
	RelatedObjectType string
	RelatedObjectID   *int64
	Payload           map[string]any
}

// ScheduleStatus summarizes one scheduled notification for status queries.
type ScheduleStatus struct {
	ID          string
	RecipientID int64
	ScheduledAt time.Time
	Status      domain.ScheduledStatus
}

// SchedulerService creates deferred notifications and sweeps them out when
// due. Cancellation and execution race on the same row; the conditional claim
// on scheduled_status decides the winner, so a cancelled notification is never
// delivered and a delivered one can no longer be cancelled.
type SchedulerService struct {
	notifications repository.NotificationRepository
	dispatcher    *DispatcherService
	logger        *zap.Logger
	interval      time.Duration
	limit         int
	now           func() time.Time
}

func NewSchedulerService(
	notifications repository.NotificationRepository,
	dispatcher *DispatcherService,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*SchedulerService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if interval <= 0 {
		interval = defaultScheduleSweepInterval
	}
	if limit <= 0 {
		limit = defaultScheduleSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SchedulerService{
		notifications: notifications,
		dispatcher:    dispatcher,
		logger:        logger,
		interval:      interval,
		limit:         limit,
		now:           time.Now,
	}, nil
}

// Schedule persists one pending scheduled notification per recipient and
// returns them. Nothing is enqueued until the send time arrives.
func (s *SchedulerService) Schedule(ctx context.Context, input ScheduleInput) ([]domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(input.RecipientIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", domain.ErrValidation)
	}
	if len(input.RecipientIDs) > maxScheduleRecipients {
		return nil, fmt.Errorf("%w: recipient count exceeds %d", domain.ErrValidation, maxScheduleRecipients)
	}

	now := s.now().UTC()
	sendAt := input.SendAt.UTC()
	if !sendAt.After(now) {
		return nil, fmt.Errorf("%w: send time must be in the future", domain.ErrValidation)
	}

	channels, err := normalizeChannels(input.Channels)
	if err != nil {
		return nil, err
	}

	pending := domain.ScheduledPending
	seen := make(map[int64]struct{}, len(input.RecipientIDs))
	notifications := make([]*domain.Notification, 0, len(input.RecipientIDs))
	for _, recipientID := range input.RecipientIDs {
		if _, ok := seen[recipientID]; ok {
			continue
		}
		seen[recipientID] = struct{}{}

		status := pending
		scheduledAt := sendAt
		notification := &domain.Notification{
			ID:                uuid.NewString(),
			RecipientID:       recipientID,
			Type:              input.Type,
			Priority:          input.Priority,
			Title:             strings.TrimSpace(input.Title),
			Message:           strings.TrimSpace(input.Message),
			Channels:          channels,
			ScheduledAt:       &scheduledAt,
			ScheduledStatus:   &status,
			RelatedObjectType: strings.TrimSpace(input.RelatedObjectType),
			RelatedObjectID:   input.RelatedObjectID,
			Payload:           input.Payload,
		}
		if err := notification.Validate(); err != nil {
			return nil, err
		}
		notifications = append(notifications, notification)
	}

	if err := s.notifications.CreateBatch(ctx, notifications); err != nil {
		return nil, fmt.Errorf("failed to persist scheduled notifications: %w", err)
	}

	created := make([]domain.Notification, 0, len(notifications))
	for _, n := range notifications {
		created = append(created, *n)
	}

	s.logger.Info("notifications scheduled",
		zap.Int("count", len(created)),
		zap.Time("sendAt", sendAt),
	)
	return created, nil
}

// Cancel withdraws a still-pending scheduled notification. A notification the
// sweep already claimed reports ErrConflict.
func (s *SchedulerService) Cancel(ctx context.Context, id string) error {
	notification, err := s.getScheduled(ctx, id)
	if err != nil {
		return err
	}

	cancelled, err := s.notifications.CancelScheduled(ctx, notification.ID)
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled notification: %w", err)
	}
	if !cancelled {
		return fmt.Errorf("%w: notification is no longer pending", domain.ErrConflict)
	}

	s.logger.Info("scheduled notification cancelled", zap.String("notificationId", notification.ID))
	return nil
}

// Reschedule moves a still-pending scheduled notification to a new future time.
func (s *SchedulerService) Reschedule(ctx context.Context, id string, newAt time.Time) error {
	notification, err := s.getScheduled(ctx, id)
	if err != nil {
		return err
	}

	newAt = newAt.UTC()
	if !newAt.After(s.now().UTC()) {
		return fmt.Errorf("%w: send time must be in the future", domain.ErrValidation)
	}

	moved, err := s.notifications.RescheduleScheduled(ctx, notification.ID, newAt)
	if err != nil {
		return fmt.Errorf("failed to reschedule notification: %w", err)
	}
	if !moved {
		return fmt.Errorf("%w: notification is no longer pending", domain.ErrConflict)
	}
	return nil
}

// Retry pushes a still-pending scheduled notification further out by delay,
// relative to its current send time.
func (s *SchedulerService) Retry(ctx context.Context, id string, delay time.Duration) error {
	if delay <= 0 {
		return fmt.Errorf("%w: delay must be positive", domain.ErrValidation)
	}

	notification, err := s.getScheduled(ctx, id)
	if err != nil {
		return err
	}

	newAt := notification.ScheduledAt.Add(delay).UTC()
	if now := s.now().UTC(); !newAt.After(now) {
		newAt = now.Add(delay)
	}

	moved, err := s.notifications.RescheduleScheduled(ctx, notification.ID, newAt)
	if err != nil {
		return fmt.Errorf("failed to retry scheduled notification: %w", err)
	}
	if !moved {
		return fmt.Errorf("%w: notification is no longer pending", domain.ErrConflict)
	}

	s.logger.Info("scheduled notification pushed out",
		zap.String("notificationId", notification.ID),
		zap.Time("sendAt", newAt),
	)
	return nil
}

// Status reports where one scheduled notification stands.
func (s *SchedulerService) Status(ctx context.Context, id string) (*ScheduleStatus, error) {
	notification, err := s.getScheduled(ctx, id)
	if err != nil {
		return nil, err
	}

	return &ScheduleStatus{
		ID:          notification.ID,
		RecipientID: notification.RecipientID,
		ScheduledAt: *notification.ScheduledAt,
		Status:      *notification.ScheduledStatus,
	}, nil
}

// Start sweeps due scheduled notifications until context cancellation.
func (s *SchedulerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.sweepDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial sweep failed", zap.Error(err))
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
				s.logger.Error("scheduler sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *SchedulerService) sweepDue(ctx context.Context) error {
	due, err := s.notifications.GetDueScheduled(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled notifications: %w", err)
	}

	for i := range due {
		notification := due[i]

		claimed, err := s.notifications.ClaimScheduled(ctx, notification.ID)
		if err != nil {
			s.logger.Error("failed to claim scheduled notification",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}
		// Cancelled, or another sweep instance got there first.
		if !claimed {
			continue
		}

		if err := s.dispatcher.DeliverExisting(ctx, &notification); err != nil {
			s.logger.Error("failed to deliver scheduled notification",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}

		s.logger.Info("scheduled notification delivered",
			zap.String("notificationId", notification.ID),
			zap.Int64("recipientId", notification.RecipientID),
		)
	}

	return nil
}

func (s *SchedulerService) getScheduled(ctx context.Context, id string) (*domain.Notification, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	notification, err := s.notifications.GetByID(ctx, trimmed)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if notification.ScheduledStatus == nil || notification.ScheduledAt == nil {
		return nil, fmt.Errorf("%w: notification %s is not scheduled", domain.ErrValidation, trimmed)
	}
	return notification, nil
}
