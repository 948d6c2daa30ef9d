package directory

import (
	"context"

	"github.com/edurelay/notify-engine/internal/domain"
)

// Role classifies platform users for recipient resolution.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleTutor   Role = "tutor"
	RoleParent  Role = "parent"
	RoleAdmin   Role = "admin"
)

func (r Role) String() string { return string(r) }

// User is the directory view of a platform account: just enough to address a
// message. Identity management itself lives outside this service.
type User struct {
	ID        int64
	Role      Role
	FirstName string
	LastName  string
	Email     string
	Phone     string
	BotChatID int64
	SubjectID *int64
	TutorID   *int64
	TeacherID *int64
}

// UserDirectory resolves user ids to addressable users.
type UserDirectory interface {
	Get(ctx context.Context, id int64) (*User, error)
}

// Settings answers per-user channel preferences. Missing settings default to
// allow; implementations must not fail a dispatch over an absent row.
type Settings interface {
	IsAllowed(ctx context.Context, userID int64, t domain.Type, ch domain.Channel) (bool, error)
}

// RecipientResolver turns a campaign target group into a flat id list. The
// queries behind it are external concerns; only ids come back.
type RecipientResolver interface {
	Resolve(ctx context.Context, group domain.TargetGroup, filter domain.TargetFilter) ([]int64, error)
}
