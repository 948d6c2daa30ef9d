package repository

import (
	"context"
	"errors"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
	"gorm.io/gorm"
)

type DeliveryRepository interface {
	CreateBatch(ctx context.Context, entries []*domain.DeliveryEntry) error
	GetByID(ctx context.Context, id string) (*domain.DeliveryEntry, error)
	// Claim moves pending -> processing via a conditional update; the loser
	// of a race gets (nil, false, nil), not an error.
	Claim(ctx context.Context, id string) (*domain.DeliveryEntry, bool, error)
	MarkSent(ctx context.Context, id string, providerMessageID string, now time.Time) error
	MarkFailed(ctx context.Context, id string, errorMessage string, now time.Time) error
	// MarkExhausted finishes a claimed entry whose attempts are already spent.
	// No send happened, so the attempt counter and the stored error stay as the
	// last real attempt left them.
	MarkExhausted(ctx context.Context, id string, now time.Time) error
	// Reschedule returns the entry to pending with a future due time after a
	// retryable failure.
	Reschedule(ctx context.Context, id string, errorMessage string, nextAt time.Time) error
	CancelPendingByNotification(ctx context.Context, notificationID string) (int64, error)
	// GetDue lists pending entries ordered by (scheduled_at, created_at).
	GetDue(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryEntry, error)
	// DeferRedelivery pushes a pending entry's due time forward so the sweep
	// does not republish it before the broker delivers.
	DeferRedelivery(ctx context.Context, id string, until time.Time) error
	ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryEntry, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) CreateBatch(ctx context.Context, entries []*domain.DeliveryEntry) error {
	models := make([]DeliveryEntryModel, 0, len(entries))
	modelIndexes := make([]int, 0, len(entries))
	for i, e := range entries {
		if model := deliveryModelFromDomain(e); model != nil {
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
		if idx < len(entries) && entries[idx] != nil {
			*entries[idx] = *deliveryModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryEntry, error) {
	var model DeliveryEntryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) Claim(ctx context.Context, id string) (*domain.DeliveryEntry, bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryEntryModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryPending).
		Update("status", domain.DeliveryProcessing)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, false, nil
	}

	entry, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (r *GormDeliveryRepo) MarkSent(ctx context.Context, id string, providerMessageID string, now time.Time) error {
	updates := map[string]any{
		"status":        domain.DeliverySent,
		"attempts":      gorm.Expr("attempts + 1"),
		"processed_at":  now,
		"error_message": nil,
	}
	if providerMessageID != "" {
		updates["provider_message_id"] = providerMessageID
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryEntryModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryProcessing).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryRepo) MarkFailed(ctx context.Context, id string, errorMessage string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryEntryModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryProcessing).
		Updates(map[string]any{
			"status":        domain.DeliveryFailed,
			"attempts":      gorm.Expr("attempts + 1"),
			"processed_at":  now,
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryRepo) MarkExhausted(ctx context.Context, id string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryEntryModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryProcessing).
		Updates(map[string]any{
			"status":       domain.DeliveryFailed,
			"processed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryRepo) Reschedule(ctx context.Context, id string, errorMessage string, nextAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryEntryModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryProcessing).
		Updates(map[string]any{
			"status":        domain.DeliveryPending,
			"attempts":      gorm.Expr("attempts + 1"),
			"scheduled_at":  nextAt,
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryRepo) CancelPendingByNotification(ctx context.Context, notificationID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryEntryModel{}).
		Where("notification_id = ? AND status = ?", notificationID, domain.DeliveryPending).
		Update("status", domain.DeliveryCancelled)
	return result.RowsAffected, result.Error
}

func (r *GormDeliveryRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryEntry, error) {
	var models []DeliveryEntryModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.DeliveryPending, now).
		Order("scheduled_at ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.DeliveryEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *deliveryModelToDomain(&models[i]))
	}

	return entries, nil
}

func (r *GormDeliveryRepo) DeferRedelivery(ctx context.Context, id string, until time.Time) error {
	return r.db.WithContext(ctx).
		Model(&DeliveryEntryModel{}).
		Where("id = ? AND status = ?", id, domain.DeliveryPending).
		Update("scheduled_at", until).Error
}

func (r *GormDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.DeliveryEntry, error) {
	var models []DeliveryEntryModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.DeliveryEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *deliveryModelToDomain(&models[i]))
	}

	return entries, nil
}
