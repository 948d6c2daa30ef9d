package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/edurelay/notify-engine/internal/repository"
	"go.uber.org/zap"
)

// ReaderService is the recipient-facing inbox: list, unread count, mark-read,
// archive, delete. Every mutation is scoped to the owning recipient, so one
// user can never touch another user's rows.
type ReaderService struct {
	notifications repository.NotificationRepository
	logger        *zap.Logger
	now           func() time.Time
}

func NewReaderService(notifications repository.NotificationRepository, logger *zap.Logger) (*ReaderService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReaderService{
		notifications: notifications,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (s *ReaderService) List(
	ctx context.Context,
	recipientID int64,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	if recipientID <= 0 {
		return nil, 0, fmt.Errorf("%w: recipient id is required", domain.ErrValidation)
	}
	return s.notifications.ListByRecipient(ctx, recipientID, params)
}

func (s *ReaderService) UnreadCount(ctx context.Context, recipientID int64) (int64, error) {
	if recipientID <= 0 {
		return 0, fmt.Errorf("%w: recipient id is required", domain.ErrValidation)
	}
	return s.notifications.UnreadCount(ctx, recipientID)
}

func (s *ReaderService) Get(ctx context.Context, recipientID int64, id string) (*domain.Notification, error) {
	trimmed, err := requireID(id)
	if err != nil {
		return nil, err
	}

	notification, err := s.notifications.GetByID(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	if notification.RecipientID != recipientID {
		return nil, domain.ErrNotFound
	}
	return notification, nil
}

// MarkRead is idempotent: marking an already-read notification reports
// changed=false without an error.
func (s *ReaderService) MarkRead(ctx context.Context, recipientID int64, id string) (bool, error) {
	trimmed, err := requireID(id)
	if err != nil {
		return false, err
	}
	return s.notifications.MarkRead(ctx, trimmed, recipientID, s.now().UTC())
}

// Archive hides a notification from the default list view without deleting it.
func (s *ReaderService) Archive(ctx context.Context, recipientID int64, id string) (bool, error) {
	trimmed, err := requireID(id)
	if err != nil {
		return false, err
	}
	return s.notifications.Archive(ctx, trimmed, recipientID, s.now().UTC())
}

// Delete removes the notification and, through the FK cascade, its queue
// entries. Deleting a missing row is a no-op.
func (s *ReaderService) Delete(ctx context.Context, recipientID int64, id string) error {
	trimmed, err := requireID(id)
	if err != nil {
		return err
	}
	return s.notifications.Delete(ctx, trimmed, recipientID)
}

func requireID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return trimmed, nil
}
