package repository

import (
	"encoding/json"
	"time"

	"github.com/edurelay/notify-engine/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID                string                  `gorm:"type:uuid;primaryKey"`
	RecipientID       int64                   `gorm:"not null;index"`
	Type              domain.Type             `gorm:"type:varchar(40);not null"`
	Priority          domain.Priority         `gorm:"type:varchar(10);not null"`
	Title             string                  `gorm:"type:varchar(255);not null"`
	Message           string                  `gorm:"type:text;not null"`
	IsRead            bool                    `gorm:"not null;default:false"`
	ReadAt            *time.Time              `gorm:"type:timestamptz"`
	IsSent            bool                    `gorm:"not null;default:false"`
	SentAt            *time.Time              `gorm:"type:timestamptz"`
	IsArchived        bool                    `gorm:"not null;default:false"`
	ArchivedAt        *time.Time              `gorm:"type:timestamptz"`
	ScheduledAt       *time.Time              `gorm:"type:timestamptz"`
	ScheduledStatus   *domain.ScheduledStatus `gorm:"type:varchar(20)"`
	Channels          []byte                  `gorm:"type:jsonb"`
	RelatedObjectType string                  `gorm:"type:varchar(60)"`
	RelatedObjectID   *int64
	Payload           []byte `gorm:"type:jsonb"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryEntryModel is the persistence model for delivery_queue_entries.
type DeliveryEntryModel struct {
	ID                string                `gorm:"type:uuid;primaryKey"`
	NotificationID    string                `gorm:"type:uuid;not null"`
	Channel           domain.Channel        `gorm:"type:varchar(10);not null"`
	Status            domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	Attempts          int                   `gorm:"not null;default:0"`
	MaxAttempts       int                   `gorm:"not null;default:3"`
	ScheduledAt       time.Time             `gorm:"type:timestamptz;not null"`
	ProviderMessageID *string               `gorm:"type:varchar(255)"`
	ErrorMessage      *string               `gorm:"type:text"`
	CreatedAt         time.Time
	ProcessedAt       *time.Time `gorm:"type:timestamptz"`
}

func (DeliveryEntryModel) TableName() string {
	return "delivery_queue_entries"
}

// CampaignModel is the persistence model for broadcast_campaigns.
type CampaignModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	CreatedBy      int64                 `gorm:"not null"`
	TargetGroup    domain.TargetGroup    `gorm:"type:varchar(20);not null"`
	TargetFilter   []byte                `gorm:"type:jsonb"`
	Message        string                `gorm:"type:text;not null"`
	Status         domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	RecipientCount int                   `gorm:"not null;default:0"`
	SentCount      int                   `gorm:"not null;default:0"`
	FailedCount    int                   `gorm:"not null;default:0"`
	ScheduledAt    *time.Time            `gorm:"type:timestamptz"`
	SentAt         *time.Time            `gorm:"type:timestamptz"`
	CompletedAt    *time.Time            `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CampaignModel) TableName() string {
	return "broadcast_campaigns"
}

// RecipientModel is the persistence model for broadcast_recipients.
type RecipientModel struct {
	ID               string     `gorm:"type:uuid;primaryKey"`
	CampaignID       string     `gorm:"type:uuid;not null;uniqueIndex:idx_recipients_campaign_user"`
	UserID           int64      `gorm:"not null;uniqueIndex:idx_recipients_campaign_user"`
	ChannelSent      bool       `gorm:"not null;default:false"`
	ChannelMessageID *string    `gorm:"type:varchar(255)"`
	ChannelError     *string    `gorm:"type:text"`
	SentAt           *time.Time `gorm:"type:timestamptz"`
	CreatedAt        time.Time
}

func (RecipientModel) TableName() string {
	return "broadcast_recipients"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	var payload []byte
	if len(n.Payload) > 0 {
		payload, _ = json.Marshal(n.Payload)
	}

	var channels []byte
	if len(n.Channels) > 0 {
		channels, _ = json.Marshal(n.Channels)
	}

	return &NotificationModel{
		ID:                n.ID,
		RecipientID:       n.RecipientID,
		Type:              n.Type,
		Priority:          n.Priority,
		Title:             n.Title,
		Message:           n.Message,
		IsRead:            n.IsRead,
		ReadAt:            n.ReadAt,
		IsSent:            n.IsSent,
		SentAt:            n.SentAt,
		IsArchived:        n.IsArchived,
		ArchivedAt:        n.ArchivedAt,
		ScheduledAt:       n.ScheduledAt,
		ScheduledStatus:   n.ScheduledStatus,
		Channels:          channels,
		RelatedObjectType: n.RelatedObjectType,
		RelatedObjectID:   n.RelatedObjectID,
		Payload:           payload,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	var payload map[string]any
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &payload)
	}

	var channels []domain.Channel
	if len(m.Channels) > 0 {
		_ = json.Unmarshal(m.Channels, &channels)
	}

	return &domain.Notification{
		ID:                m.ID,
		RecipientID:       m.RecipientID,
		Type:              m.Type,
		Priority:          m.Priority,
		Title:             m.Title,
		Message:           m.Message,
		IsRead:            m.IsRead,
		ReadAt:            m.ReadAt,
		IsSent:            m.IsSent,
		SentAt:            m.SentAt,
		IsArchived:        m.IsArchived,
		ArchivedAt:        m.ArchivedAt,
		ScheduledAt:       m.ScheduledAt,
		ScheduledStatus:   m.ScheduledStatus,
		Channels:          channels,
		RelatedObjectType: m.RelatedObjectType,
		RelatedObjectID:   m.RelatedObjectID,
		Payload:           payload,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func deliveryModelFromDomain(e *domain.DeliveryEntry) *DeliveryEntryModel {
	if e == nil {
		return nil
	}

	return &DeliveryEntryModel{
		ID:                e.ID,
		NotificationID:    e.NotificationID,
		Channel:           e.Channel,
		Status:            e.Status,
		Attempts:          e.Attempts,
		MaxAttempts:       e.MaxAttempts,
		ScheduledAt:       e.ScheduledAt,
		ProviderMessageID: e.ProviderMessageID,
		ErrorMessage:      e.ErrorMessage,
		CreatedAt:         e.CreatedAt,
		ProcessedAt:       e.ProcessedAt,
	}
}

func deliveryModelToDomain(m *DeliveryEntryModel) *domain.DeliveryEntry {
	if m == nil {
		return nil
	}

	return &domain.DeliveryEntry{
		ID:                m.ID,
		NotificationID:    m.NotificationID,
		Channel:           m.Channel,
		Status:            m.Status,
		Attempts:          m.Attempts,
		MaxAttempts:       m.MaxAttempts,
		ScheduledAt:       m.ScheduledAt,
		ProviderMessageID: m.ProviderMessageID,
		ErrorMessage:      m.ErrorMessage,
		CreatedAt:         m.CreatedAt,
		ProcessedAt:       m.ProcessedAt,
	}
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	filter, _ := json.Marshal(c.TargetFilter)

	return &CampaignModel{
		ID:             c.ID,
		CreatedBy:      c.CreatedBy,
		TargetGroup:    c.TargetGroup,
		TargetFilter:   filter,
		Message:        c.Message,
		Status:         c.Status,
		RecipientCount: c.RecipientCount,
		SentCount:      c.SentCount,
		FailedCount:    c.FailedCount,
		ScheduledAt:    c.ScheduledAt,
		SentAt:         c.SentAt,
		CompletedAt:    c.CompletedAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	var filter domain.TargetFilter
	if len(m.TargetFilter) > 0 {
		_ = json.Unmarshal(m.TargetFilter, &filter)
	}

	return &domain.Campaign{
		ID:             m.ID,
		CreatedBy:      m.CreatedBy,
		TargetGroup:    m.TargetGroup,
		TargetFilter:   filter,
		Message:        m.Message,
		Status:         m.Status,
		RecipientCount: m.RecipientCount,
		SentCount:      m.SentCount,
		FailedCount:    m.FailedCount,
		ScheduledAt:    m.ScheduledAt,
		SentAt:         m.SentAt,
		CompletedAt:    m.CompletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func recipientModelFromDomain(r *domain.Recipient) *RecipientModel {
	if r == nil {
		return nil
	}

	return &RecipientModel{
		ID:               r.ID,
		CampaignID:       r.CampaignID,
		UserID:           r.UserID,
		ChannelSent:      r.ChannelSent,
		ChannelMessageID: r.ChannelMessageID,
		ChannelError:     r.ChannelError,
		SentAt:           r.SentAt,
		CreatedAt:        r.CreatedAt,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		ID:               m.ID,
		CampaignID:       m.CampaignID,
		UserID:           m.UserID,
		ChannelSent:      m.ChannelSent,
		ChannelMessageID: m.ChannelMessageID,
		ChannelError:     m.ChannelError,
		SentAt:           m.SentAt,
		CreatedAt:        m.CreatedAt,
	}
}
