package domain

import (
	"fmt"
	"strings"
	"time"
)

// Channel represents a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return c, nil
}

// DurableChannels are the channels that go through the delivery queue.
// In-app delivery is pushed synchronously over the realtime hub instead.
func DurableChannels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush}
}

// DeliveryStatus is the state machine over one delivery queue entry:
// pending -> processing -> {sent | pending (retry) | failed}, and
// pending -> cancelled.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryCancelled  DeliveryStatus = "cancelled"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryPending, DeliveryProcessing, DeliverySent, DeliveryFailed, DeliveryCancelled:
		return true
	}
	return false
}

func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliverySent, DeliveryFailed, DeliveryCancelled:
		return true
	}
	return false
}

const (
	// DefaultMaxAttempts bounds delivery retries per queue entry.
	DefaultMaxAttempts = 3
	// BackoffBase is the first retry delay; doubled on every further attempt.
	BackoffBase = 300 * time.Second
)

// BackoffDelay returns the delay applied after the given failed attempt
// (1-based): 5m, 10m, 20m, ...
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return BackoffBase << (attempt - 1)
}

// DeliveryEntry is one delivery-attempt record for one notification on one
// channel. Owned exclusively by its notification.
type DeliveryEntry struct {
	ID                string
	NotificationID    string
	Channel           Channel
	Status            DeliveryStatus
	Attempts          int
	MaxAttempts       int
	ScheduledAt       time.Time
	ProviderMessageID *string
	ErrorMessage      *string
	CreatedAt         time.Time
	ProcessedAt       *time.Time
}

func (e *DeliveryEntry) Validate() error {
	if strings.TrimSpace(e.NotificationID) == "" {
		return fmt.Errorf("%w: notification id is required", ErrValidation)
	}
	if !e.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, e.Channel)
	}
	if e.Channel == ChannelInApp {
		return fmt.Errorf("%w: in_app deliveries are not queued", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid delivery status %q", ErrValidation, e.Status)
	}
	if e.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrValidation)
	}
	if e.Attempts > e.MaxAttempts {
		return fmt.Errorf("%w: attempts %d exceed max %d", ErrValidation, e.Attempts, e.MaxAttempts)
	}
	return nil
}
