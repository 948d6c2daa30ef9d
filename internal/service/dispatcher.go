package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/queue"
	"github.com/edurelay/notify-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RealtimePusher pushes a freshly dispatched notification to the recipient's
// open realtime connections. A push failure never fails the dispatch.
type RealtimePusher interface {
	Push(ctx context.Context, n domain.Notification) error
}

// DispatchInput is one dispatch request: a message for one recipient over a
// set of channels.
type DispatchInput struct {
	RecipientID       int64
	Type              domain.Type
	Priority          domain.Priority
	Title             string
	Message           string
	Channels          []domain.Channel
	RelatedObjectType string
	RelatedObjectID   *int64
	Payload           map[string]any
}

// DispatchResult reports what the dispatch produced: the persisted record and
// the queue entries created for the allowed durable channels.
type DispatchResult struct {
	Notification domain.Notification
	Entries      []domain.DeliveryEntry
	Suppressed   []domain.Channel
}

// DispatcherService is the single entry point for sending a notification: it
// persists the record, fans out delivery queue entries per allowed channel and
// hands them to the broker.
type DispatcherService struct {
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	users         directory.UserDirectory
	settings      directory.Settings
	publisher     queue.Publisher
	realtime      RealtimePusher
	logger        *zap.Logger
	now           func() time.Time
}

func NewDispatcherService(
	notifications repository.NotificationRepository,
	deliveries repository.DeliveryRepository,
	users directory.UserDirectory,
	settings directory.Settings,
	publisher queue.Publisher,
	realtime RealtimePusher,
	logger *zap.Logger,
) (*DispatcherService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatcherService{
		notifications: notifications,
		deliveries:    deliveries,
		users:         users,
		settings:      settings,
		publisher:     publisher,
		realtime:      realtime,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Dispatch validates, persists and enqueues one notification. Channels the
// recipient has disabled are skipped; when every channel is disabled the
// record is still persisted, just never sent.
func (s *DispatcherService) Dispatch(ctx context.Context, input DispatchInput) (*DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	channels, err := normalizeChannels(input.Channels)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	notification := &domain.Notification{
		ID:                uuid.NewString(),
		RecipientID:       input.RecipientID,
		Type:              input.Type,
		Priority:          input.Priority,
		Title:             strings.TrimSpace(input.Title),
		Message:           strings.TrimSpace(input.Message),
		Channels:          channels,
		RelatedObjectType: strings.TrimSpace(input.RelatedObjectType),
		RelatedObjectID:   input.RelatedObjectID,
		Payload:           input.Payload,
	}
	if err := notification.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.users.Get(ctx, notification.RecipientID); err != nil {
		return nil, fmt.Errorf("failed to resolve recipient %d: %w", notification.RecipientID, err)
	}

	plan := s.planChannels(ctx, notification.RecipientID, notification.Type, channels)

	if plan.inApp {
		// In-app delivery is complete once the row lands in the inbox.
		notification.IsSent = true
		notification.SentAt = &now
	}

	entries := s.buildEntries(notification.ID, plan.durable, now)
	entryPtrs := make([]*domain.DeliveryEntry, len(entries))
	for i := range entries {
		entryPtrs[i] = &entries[i]
	}

	if err := s.notifications.CreateWithDeliveries(ctx, notification, entryPtrs); err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	if plan.inApp {
		s.pushRealtime(ctx, *notification)
	}
	s.publishEntries(ctx, *notification, entries)

	return &DispatchResult{
		Notification: *notification,
		Entries:      entries,
		Suppressed:   plan.suppressed,
	}, nil
}

// DeliverExisting fans out an already-persisted notification, replaying its
// stored channel set. The scheduler sweep calls this after winning the claim
// on a due row.
func (s *DispatcherService) DeliverExisting(ctx context.Context, notification *domain.Notification) error {
	if notification == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	channels, err := normalizeChannels(notification.Channels)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	plan := s.planChannels(ctx, notification.RecipientID, notification.Type, channels)

	entries := s.buildEntries(notification.ID, plan.durable, now)
	if len(entries) > 0 {
		entryPtrs := make([]*domain.DeliveryEntry, len(entries))
		for i := range entries {
			entryPtrs[i] = &entries[i]
		}
		if err := s.deliveries.CreateBatch(ctx, entryPtrs); err != nil {
			return fmt.Errorf("failed to create delivery entries: %w", err)
		}
	}

	if plan.inApp {
		if err := s.notifications.MarkSent(ctx, notification.ID, now); err != nil {
			s.logger.Error("failed to mark scheduled notification sent",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
		}
		s.pushRealtime(ctx, *notification)
	}
	s.publishEntries(ctx, *notification, entries)

	return nil
}

type channelPlan struct {
	inApp      bool
	durable    []domain.Channel
	suppressed []domain.Channel
}

func (s *DispatcherService) planChannels(
	ctx context.Context,
	recipientID int64,
	t domain.Type,
	channels []domain.Channel,
) channelPlan {
	var plan channelPlan
	for _, ch := range channels {
		allowed, err := s.settings.IsAllowed(ctx, recipientID, t, ch)
		if err != nil {
			// Preference lookups never block a dispatch; missing or broken
			// settings default to allow.
			s.logger.Warn("settings lookup failed, defaulting to allow",
				zap.Int64("recipientId", recipientID),
				zap.String("channel", ch.String()),
				zap.Error(err),
			)
			allowed = true
		}
		if !allowed {
			plan.suppressed = append(plan.suppressed, ch)
			continue
		}

		if ch == domain.ChannelInApp {
			plan.inApp = true
		} else {
			plan.durable = append(plan.durable, ch)
		}
	}
	return plan
}

func (s *DispatcherService) buildEntries(notificationID string, channels []domain.Channel, now time.Time) []domain.DeliveryEntry {
	entries := make([]domain.DeliveryEntry, 0, len(channels))
	for _, ch := range channels {
		entries = append(entries, domain.DeliveryEntry{
			ID:             uuid.NewString(),
			NotificationID: notificationID,
			Channel:        ch,
			Status:         domain.DeliveryPending,
			Attempts:       0,
			MaxAttempts:    domain.DefaultMaxAttempts,
			ScheduledAt:    now,
		})
	}
	return entries
}

func (s *DispatcherService) pushRealtime(ctx context.Context, n domain.Notification) {
	if s.realtime == nil {
		return
	}
	if err := s.realtime.Push(ctx, n); err != nil {
		s.logger.Warn("realtime push failed",
			zap.String("notificationId", n.ID),
			zap.Int64("recipientId", n.RecipientID),
			zap.Error(err),
		)
	}
}

// publishEntries hands fresh queue entries to the broker. A publish failure is
// logged, not returned: the entry stays pending and the retry sweep will
// republish it.
func (s *DispatcherService) publishEntries(ctx context.Context, n domain.Notification, entries []domain.DeliveryEntry) {
	for i := range entries {
		entry := entries[i]
		msg := queue.DeliveryMessage{
			EntryID:        entry.ID,
			NotificationID: n.ID,
			Channel:        entry.Channel,
			Priority:       n.Priority,
		}
		if err := s.publisher.PublishDelivery(ctx, msg); err != nil {
			s.logger.Warn("failed to publish delivery entry, sweep will republish",
				zap.String("entryId", entry.ID),
				zap.String("channel", entry.Channel.String()),
				zap.Error(err),
			)
		}
	}
}

func normalizeChannels(channels []domain.Channel) ([]domain.Channel, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: at least one channel is required", domain.ErrValidation)
	}

	seen := make(map[domain.Channel]struct{}, len(channels))
	normalized := make([]domain.Channel, 0, len(channels))
	for _, ch := range channels {
		if !ch.IsValid() {
			return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, ch)
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		normalized = append(normalized, ch)
	}
	return normalized, nil
}
