package repository

import (
	"context"
	"errors"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	IncludeArchived bool
	UnreadOnly      bool
	Page            int
	PageSize        int
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	// CreateWithDeliveries persists the record together with its initial
	// queue entries in one transaction.
	CreateWithDeliveries(ctx context.Context, n *domain.Notification, entries []*domain.DeliveryEntry) error
	CreateBatch(ctx context.Context, notifications []*domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	ListByRecipient(ctx context.Context, recipientID int64, params ListParams) ([]domain.Notification, int64, error)
	UnreadCount(ctx context.Context, recipientID int64) (int64, error)
	// MarkRead is idempotent: a second call is a no-op that reports changed=false.
	MarkRead(ctx context.Context, id string, recipientID int64, now time.Time) (bool, error)
	Archive(ctx context.Context, id string, recipientID int64, now time.Time) (bool, error)
	Delete(ctx context.Context, id string, recipientID int64) error
	// MarkSent flips is_sent once; later channel successes are no-ops.
	MarkSent(ctx context.Context, id string, now time.Time) error
	GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	// ClaimScheduled wins the cancel/execute race: pending -> sent, checked
	// by affected rows before any side effect.
	ClaimScheduled(ctx context.Context, id string) (bool, error)
	CancelScheduled(ctx context.Context, id string) (bool, error)
	RescheduleScheduled(ctx context.Context, id string, newAt time.Time) (bool, error)
	PurgeArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) CreateWithDeliveries(
	ctx context.Context,
	n *domain.Notification,
	entries []*domain.DeliveryEntry,
) error {
	model := notificationModelFromDomain(n)

	entryModels := make([]DeliveryEntryModel, 0, len(entries))
	for _, e := range entries {
		if m := deliveryModelFromDomain(e); m != nil {
			entryModels = append(entryModels, *m)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if len(entryModels) == 0 {
			return nil
		}
		return tx.Create(&entryModels).Error
	})
	if err != nil {
		return err
	}

	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	for i := range entryModels {
		if i < len(entries) && entries[i] != nil {
			*entries[i] = *deliveryModelToDomain(&entryModels[i])
		}
	}
	return nil
}

func (r *GormNotificationRepo) CreateBatch(ctx context.Context, notifications []*domain.Notification) error {
	models := make([]NotificationModel, 0, len(notifications))
	modelIndexes := make([]int, 0, len(notifications))
	for i, n := range notifications {
		if model := notificationModelFromDomain(n); model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(notifications) && notifications[idx] != nil {
			*notifications[idx] = *notificationModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) ListByRecipient(
	ctx context.Context,
	recipientID int64,
	params ListParams,
) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("recipient_id = ?", recipientID)

	if !params.IncludeArchived {
		query = query.Where("is_archived = ?", false)
	}
	if params.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}
	// Pending scheduled notifications stay invisible until their sweep delivers them.
	query = query.Where("scheduled_status IS NULL OR scheduled_status <> ?", domain.ScheduledPending)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

func (r *GormNotificationRepo) UnreadCount(ctx context.Context, recipientID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("recipient_id = ? AND is_read = ? AND is_archived = ?", recipientID, false, false).
		Where("scheduled_status IS NULL OR scheduled_status <> ?", domain.ScheduledPending).
		Count(&count).Error
	return count, err
}

func (r *GormNotificationRepo) MarkRead(ctx context.Context, id string, recipientID int64, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND recipient_id = ? AND is_read = ?", id, recipientID, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	return false, r.ensureOwnedRowExists(ctx, id, recipientID)
}

func (r *GormNotificationRepo) Archive(ctx context.Context, id string, recipientID int64, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND recipient_id = ? AND is_archived = ?", id, recipientID, false).
		Updates(map[string]any{
			"is_archived": true,
			"archived_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	return false, r.ensureOwnedRowExists(ctx, id, recipientID)
}

func (r *GormNotificationRepo) Delete(ctx context.Context, id string, recipientID int64) error {
	// Idempotent: deleting an already-deleted row is not an error. Queue
	// entries go with the record via the FK cascade.
	return r.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Delete(&NotificationModel{}).Error
}

func (r *GormNotificationRepo) MarkSent(ctx context.Context, id string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND is_sent = ?", id, false).
		Updates(map[string]any{
			"is_sent": true,
			"sent_at": now,
		})
	return result.Error
}

func (r *GormNotificationRepo) GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("scheduled_status = ? AND scheduled_at <= ?", domain.ScheduledPending, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

func (r *GormNotificationRepo) ClaimScheduled(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND scheduled_status = ?", id, domain.ScheduledPending).
		Update("scheduled_status", domain.ScheduledSent)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) CancelScheduled(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND scheduled_status = ?", id, domain.ScheduledPending).
		Update("scheduled_status", domain.ScheduledCancelled)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) RescheduleScheduled(ctx context.Context, id string, newAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND scheduled_status = ?", id, domain.ScheduledPending).
		Update("scheduled_at", newAt)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) PurgeArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("is_archived = ? AND archived_at < ?", true, cutoff).
		Delete(&NotificationModel{})
	return result.RowsAffected, result.Error
}

func (r *GormNotificationRepo) ensureOwnedRowExists(ctx context.Context, id string, recipientID int64) error {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return nil
}
