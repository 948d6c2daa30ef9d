package domain

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies the event that produced a notification.
type Type string

const (
	TypeAssignmentGraded Type = "assignment_graded"
	TypeInvoiceIssued    Type = "invoice_issued"
	TypeMaterialAdded    Type = "material_added"
	TypeChatMessage      Type = "chat_message"
	TypeBroadcast        Type = "broadcast"
	TypeSystem           Type = "system"
)

func (t Type) String() string { return string(t) }

func (t Type) IsValid() bool {
	switch t {
	case TypeAssignmentGraded, TypeInvoiceIssued, TypeMaterialAdded,
		TypeChatMessage, TypeBroadcast, TypeSystem:
		return true
	}
	return false
}

func ParseTypeFromString(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, s)
	}
	return t, nil
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return p, nil
}

// ScheduledStatus tracks the lifecycle of a deferred notification.
// Only meaningful when ScheduledAt is set.
type ScheduledStatus string

const (
	ScheduledPending   ScheduledStatus = "pending"
	ScheduledSent      ScheduledStatus = "sent"
	ScheduledCancelled ScheduledStatus = "cancelled"
)

func (s ScheduledStatus) String() string { return string(s) }

func (s ScheduledStatus) IsValid() bool {
	switch s {
	case ScheduledPending, ScheduledSent, ScheduledCancelled:
		return true
	}
	return false
}

const (
	MaxTitleLength   = 255
	MaxMessageLength = 10000
)

// Notification is the durable record of one message addressed to one user.
//
// Invariants: IsRead implies ReadAt is set; IsArchived implies ArchivedAt is
// set; while ScheduledStatus is pending, IsSent must be false.
type Notification struct {
	ID                string
	RecipientID       int64
	Type              Type
	Priority          Priority
	Title             string
	Message           string
	IsRead            bool
	ReadAt            *time.Time
	IsSent            bool
	SentAt            *time.Time
	IsArchived        bool
	ArchivedAt        *time.Time
	ScheduledAt       *time.Time
	ScheduledStatus   *ScheduledStatus
	// Channels is the delivery channel set requested at dispatch time. For
	// scheduled notifications it is replayed when the sweep claims the row.
	Channels          []Channel
	RelatedObjectType string
	RelatedObjectID   *int64
	Payload           map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (n *Notification) Validate() error {
	if n.RecipientID <= 0 {
		return fmt.Errorf("%w: recipient id is required", ErrValidation)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", ErrValidation, n.Type)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}

	if titleLen := len([]rune(n.Title)); titleLen > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters (got %d)", ErrValidation, MaxTitleLength, titleLen)
	}
	if msgLen := len([]rune(n.Message)); msgLen > MaxMessageLength {
		return fmt.Errorf("%w: message exceeds %d characters (got %d)", ErrValidation, MaxMessageLength, msgLen)
	}

	if n.ScheduledStatus != nil {
		if n.ScheduledAt == nil {
			return fmt.Errorf("%w: scheduled status requires scheduled time", ErrValidation)
		}
		if !n.ScheduledStatus.IsValid() {
			return fmt.Errorf("%w: invalid scheduled status %q", ErrValidation, *n.ScheduledStatus)
		}
		if *n.ScheduledStatus == ScheduledPending && n.IsSent {
			return fmt.Errorf("%w: pending scheduled notification cannot be marked sent", ErrValidation)
		}
	}

	return nil
}

// IsScheduledPending reports whether the notification is deferred and still
// waiting for its sweep.
func (n *Notification) IsScheduledPending() bool {
	return n.ScheduledStatus != nil && *n.ScheduledStatus == ScheduledPending
}
