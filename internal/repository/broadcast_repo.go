package repository

import (
	"context"
	"errors"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
	"gorm.io/gorm"
)

// ErrorCount is one line of a campaign's most-frequent-error summary.
type ErrorCount struct {
	Error string `gorm:"column:channel_error"`
	Count int    `gorm:"column:count"`
}

type RecipientPage struct {
	Recipients []domain.Recipient
	Total      int64
}

type BroadcastRepository interface {
	// CreateWithRecipients materializes the campaign together with its
	// recipient snapshot in one transaction, so no partially-visible
	// campaign is ever observed.
	CreateWithRecipients(ctx context.Context, c *domain.Campaign, recipients []*domain.Recipient) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, page, pageSize int) ([]domain.Campaign, int64, error)
	// Transition is a conditional status move; reports false when the
	// campaign was not in any of the from states.
	Transition(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, extra map[string]any) (bool, error)
	GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	// NextUnattemptedBatch returns recipients with no result yet, in stable order.
	NextUnattemptedBatch(ctx context.Context, campaignID string, limit int) ([]domain.Recipient, error)
	MarkRecipientSent(ctx context.Context, id string, providerMessageID string, now time.Time) error
	MarkRecipientFailed(ctx context.Context, id string, channelError string) error
	AddCounters(ctx context.Context, campaignID string, sentDelta, failedDelta int) error
	// ResetFailed clears errors on failed rows so a retry run re-attempts
	// exactly the failed subset. Returns how many rows were reset.
	ResetFailed(ctx context.Context, campaignID string) (int64, error)
	ListRecipients(ctx context.Context, campaignID string, page, pageSize int) (*RecipientPage, error)
	ErrorSummary(ctx context.Context, campaignID string, limit int) ([]ErrorCount, error)
}

type GormBroadcastRepo struct {
	db *gorm.DB
}

func NewGormBroadcastRepo(db *gorm.DB) *GormBroadcastRepo {
	return &GormBroadcastRepo{db: db}
}

func (r *GormBroadcastRepo) CreateWithRecipients(
	ctx context.Context,
	c *domain.Campaign,
	recipients []*domain.Recipient,
) error {
	model := campaignModelFromDomain(c)

	recipientModels := make([]RecipientModel, 0, len(recipients))
	for _, rcpt := range recipients {
		if m := recipientModelFromDomain(rcpt); m != nil {
			recipientModels = append(recipientModels, *m)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if len(recipientModels) == 0 {
			return nil
		}
		return tx.CreateInBatches(&recipientModels, 500).Error
	})
	if err != nil {
		return err
	}

	if c != nil {
		*c = *campaignModelToDomain(model)
	}
	for i := range recipientModels {
		if i < len(recipients) && recipients[i] != nil {
			*recipients[i] = *recipientModelToDomain(&recipientModels[i])
		}
	}
	return nil
}

func (r *GormBroadcastRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

func (r *GormBroadcastRepo) List(ctx context.Context, page, pageSize int) ([]domain.Campaign, int64, error) {
	query := r.db.WithContext(ctx).Model(&CampaignModel{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page = max(page, 1)
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []CampaignModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i]))
	}

	return campaigns, total, nil
}

func (r *GormBroadcastRepo) Transition(
	ctx context.Context,
	id string,
	from []domain.CampaignStatus,
	to domain.CampaignStatus,
	extra map[string]any,
) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormBroadcastRepo) GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.CampaignScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	campaigns := make([]domain.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, *campaignModelToDomain(&models[i]))
	}

	return campaigns, nil
}

func (r *GormBroadcastRepo) NextUnattemptedBatch(ctx context.Context, campaignID string, limit int) ([]domain.Recipient, error) {
	var models []RecipientModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND channel_sent = ? AND channel_error IS NULL", campaignID, false).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}

	return recipients, nil
}

func (r *GormBroadcastRepo) MarkRecipientSent(ctx context.Context, id string, providerMessageID string, now time.Time) error {
	updates := map[string]any{
		"channel_sent":  true,
		"channel_error": nil,
		"sent_at":       now,
	}
	if providerMessageID != "" {
		updates["channel_message_id"] = providerMessageID
	}

	return r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *GormBroadcastRepo) MarkRecipientFailed(ctx context.Context, id string, channelError string) error {
	return r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("id = ?", id).
		Update("channel_error", channelError).Error
}

func (r *GormBroadcastRepo) AddCounters(ctx context.Context, campaignID string, sentDelta, failedDelta int) error {
	if sentDelta == 0 && failedDelta == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{
			"sent_count":   gorm.Expr("sent_count + ?", sentDelta),
			"failed_count": gorm.Expr("failed_count + ?", failedDelta),
		}).Error
}

func (r *GormBroadcastRepo) ResetFailed(ctx context.Context, campaignID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("campaign_id = ? AND channel_sent = ? AND channel_error IS NOT NULL", campaignID, false).
		Update("channel_error", nil)
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		// Failed rows re-enter the pending pool; the campaign counter follows.
		err := r.db.WithContext(ctx).
			Model(&CampaignModel{}).
			Where("id = ?", campaignID).
			Update("failed_count", gorm.Expr("failed_count - ?", result.RowsAffected)).Error
		if err != nil {
			return 0, err
		}
	}

	return result.RowsAffected, nil
}

func (r *GormBroadcastRepo) ListRecipients(ctx context.Context, campaignID string, page, pageSize int) (*RecipientPage, error) {
	query := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("campaign_id = ?", campaignID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	page = max(page, 1)
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 500)

	var models []RecipientModel
	err := query.
		Order("created_at ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}

	return &RecipientPage{Recipients: recipients, Total: total}, nil
}

func (r *GormBroadcastRepo) ErrorSummary(ctx context.Context, campaignID string, limit int) ([]ErrorCount, error) {
	if limit < 1 {
		limit = 5
	}

	var summaries []ErrorCount
	err := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Select("channel_error, COUNT(*) as count").
		Where("campaign_id = ? AND channel_error IS NOT NULL", campaignID).
		Group("channel_error").
		Order("count DESC").
		Limit(limit).
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
