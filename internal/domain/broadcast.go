package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// CampaignStatus is the broadcast state machine:
// draft -> (scheduled) -> sending -> {completed | failed | cancelled}.
// Retry re-enters sending for the failed subset only.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending,
		CampaignCompleted, CampaignFailed, CampaignCancelled:
		return true
	}
	return false
}

func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignCompleted, CampaignFailed, CampaignCancelled:
		return true
	}
	return false
}

// TargetGroup selects how a campaign's recipient set is resolved.
type TargetGroup string

const (
	TargetAllStudents TargetGroup = "all_students"
	TargetAllTeachers TargetGroup = "all_teachers"
	TargetAllTutors   TargetGroup = "all_tutors"
	TargetAllParents  TargetGroup = "all_parents"
	TargetBySubject   TargetGroup = "by_subject"
	TargetByTutor     TargetGroup = "by_tutor"
	TargetByTeacher   TargetGroup = "by_teacher"
	TargetCustom      TargetGroup = "custom"
)

func (g TargetGroup) String() string { return string(g) }

func (g TargetGroup) IsValid() bool {
	switch g {
	case TargetAllStudents, TargetAllTeachers, TargetAllTutors, TargetAllParents,
		TargetBySubject, TargetByTutor, TargetByTeacher, TargetCustom:
		return true
	}
	return false
}

func ParseTargetGroupFromString(s string) (TargetGroup, error) {
	g := TargetGroup(strings.ToLower(strings.TrimSpace(s)))
	if !g.IsValid() {
		return "", fmt.Errorf("%w: invalid target group %q", ErrValidation, s)
	}
	return g, nil
}

// TargetFilter narrows a target group. Which field applies depends on the
// group variant.
type TargetFilter struct {
	SubjectID *int64  `json:"subjectId,omitempty"`
	TutorID   *int64  `json:"tutorId,omitempty"`
	TeacherID *int64  `json:"teacherId,omitempty"`
	UserIDs   []int64 `json:"userIds,omitempty"`
}

func (f TargetFilter) ValidateFor(group TargetGroup) error {
	switch group {
	case TargetBySubject:
		if f.SubjectID == nil {
			return fmt.Errorf("%w: subject id is required for %s", ErrValidation, group)
		}
	case TargetByTutor:
		if f.TutorID == nil {
			return fmt.Errorf("%w: tutor id is required for %s", ErrValidation, group)
		}
	case TargetByTeacher:
		if f.TeacherID == nil {
			return fmt.Errorf("%w: teacher id is required for %s", ErrValidation, group)
		}
	case TargetCustom:
		if len(f.UserIDs) == 0 {
			return fmt.Errorf("%w: user ids are required for %s", ErrValidation, group)
		}
	}
	return nil
}

// Campaign is one operator-initiated message sent to a resolved recipient
// group. The recipient set is a snapshot taken at creation, never
// re-evaluated.
//
// Invariant: SentCount+FailedCount <= RecipientCount at all times.
type Campaign struct {
	ID             string
	CreatedBy      int64
	TargetGroup    TargetGroup
	TargetFilter   TargetFilter
	Message        string
	Status         CampaignStatus
	RecipientCount int
	SentCount      int
	FailedCount    int
	ScheduledAt    *time.Time
	SentAt         *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c *Campaign) Validate() error {
	if c.CreatedBy <= 0 {
		return fmt.Errorf("%w: creator id is required", ErrValidation)
	}
	if strings.TrimSpace(c.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !c.TargetGroup.IsValid() {
		return fmt.Errorf("%w: invalid target group %q", ErrValidation, c.TargetGroup)
	}
	if err := c.TargetFilter.ValidateFor(c.TargetGroup); err != nil {
		return err
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid campaign status %q", ErrValidation, c.Status)
	}
	return nil
}

// PendingCount is the number of recipients not yet resolved to a result.
func (c *Campaign) PendingCount() int {
	pending := c.RecipientCount - c.SentCount - c.FailedCount
	if pending < 0 {
		return 0
	}
	return pending
}

// ProgressPct returns round(sent/total*100); zero when the snapshot is empty.
func (c *Campaign) ProgressPct() int {
	if c.RecipientCount <= 0 {
		return 0
	}
	return int(math.Round(float64(c.SentCount) / float64(c.RecipientCount) * 100))
}

// Recipient is one row of a campaign's recipient snapshot. Owned exclusively
// by its campaign.
type Recipient struct {
	ID               string
	CampaignID       string
	UserID           int64
	ChannelSent      bool
	ChannelMessageID *string
	ChannelError     *string
	SentAt           *time.Time
	CreatedAt        time.Time
}
