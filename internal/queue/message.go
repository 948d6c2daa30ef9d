package queue

import (
	"fmt"
	"strings"

	"github.com/edurelay/notify-engine/internal/domain"
)

// DeliveryMessage is the broker payload pointing at one delivery queue entry.
// The database row stays the source of truth; the message only triggers a claim.
type DeliveryMessage struct {
	EntryID        string          `json:"entryId"`
	NotificationID string          `json:"notificationId"`
	Channel        domain.Channel  `json:"channel"`
	Priority       domain.Priority `json:"priority"`
}

func (m DeliveryMessage) Validate() error {
	if strings.TrimSpace(m.EntryID) == "" {
		return fmt.Errorf("entryId is required")
	}
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !m.Channel.IsValid() || m.Channel == domain.ChannelInApp {
		return fmt.Errorf("invalid delivery channel %q", m.Channel)
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	return nil
}

// BroadcastMessage is the broker payload pointing at one campaign to process.
type BroadcastMessage struct {
	CampaignID string `json:"campaignId"`
}

func (m BroadcastMessage) Validate() error {
	if strings.TrimSpace(m.CampaignID) == "" {
		return fmt.Errorf("campaignId is required")
	}
	return nil
}
