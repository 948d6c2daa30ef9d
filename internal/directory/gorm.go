package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/edurelay/notify-engine/internal/domain"
	"gorm.io/gorm"
)

// UserModel is the persistence model for the users table (a read-mostly
// replica of the identity service's data).
type UserModel struct {
	ID        int64  `gorm:"primaryKey"`
	Role      Role   `gorm:"type:varchar(20);not null;index"`
	FirstName string `gorm:"type:varchar(120)"`
	LastName  string `gorm:"type:varchar(120)"`
	Email     string `gorm:"type:varchar(255)"`
	Phone     string `gorm:"type:varchar(30)"`
	BotChatID int64
	SubjectID *int64 `gorm:"index"`
	TutorID   *int64 `gorm:"index"`
	TeacherID *int64 `gorm:"index"`
}

func (UserModel) TableName() string {
	return "users"
}

// SettingModel is the persistence model for notification_settings. A row
// exists only when a user disabled something; absence means allowed.
type SettingModel struct {
	ID      int64          `gorm:"primaryKey;autoIncrement"`
	UserID  int64          `gorm:"not null;uniqueIndex:idx_settings_user_type_channel"`
	Type    domain.Type    `gorm:"type:varchar(40);not null;uniqueIndex:idx_settings_user_type_channel"`
	Channel domain.Channel `gorm:"type:varchar(10);not null;uniqueIndex:idx_settings_user_type_channel"`
	Allowed bool           `gorm:"not null;default:true"`
}

func (SettingModel) TableName() string {
	return "notification_settings"
}

// GormDirectory implements UserDirectory, Settings and RecipientResolver over
// the shared database.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) Get(ctx context.Context, id int64) (*User, error) {
	var model UserModel
	err := d.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	return &User{
		ID:        model.ID,
		Role:      model.Role,
		FirstName: model.FirstName,
		LastName:  model.LastName,
		Email:     model.Email,
		Phone:     model.Phone,
		BotChatID: model.BotChatID,
		SubjectID: model.SubjectID,
		TutorID:   model.TutorID,
		TeacherID: model.TeacherID,
	}, nil
}

func (d *GormDirectory) IsAllowed(ctx context.Context, userID int64, t domain.Type, ch domain.Channel) (bool, error) {
	var model SettingModel
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND channel = ?", userID, t, ch).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No stored preference defaults to allow.
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return model.Allowed, nil
}

func (d *GormDirectory) Resolve(ctx context.Context, group domain.TargetGroup, filter domain.TargetFilter) ([]int64, error) {
	if err := filter.ValidateFor(group); err != nil {
		return nil, err
	}

	if group == domain.TargetCustom {
		return dedupeIDs(filter.UserIDs), nil
	}

	query := d.db.WithContext(ctx).Model(&UserModel{})

	switch group {
	case domain.TargetAllStudents:
		query = query.Where("role = ?", RoleStudent)
	case domain.TargetAllTeachers:
		query = query.Where("role = ?", RoleTeacher)
	case domain.TargetAllTutors:
		query = query.Where("role = ?", RoleTutor)
	case domain.TargetAllParents:
		query = query.Where("role = ?", RoleParent)
	case domain.TargetBySubject:
		query = query.Where("role = ? AND subject_id = ?", RoleStudent, *filter.SubjectID)
	case domain.TargetByTutor:
		query = query.Where("role = ? AND tutor_id = ?", RoleStudent, *filter.TutorID)
	case domain.TargetByTeacher:
		query = query.Where("role = ? AND teacher_id = ?", RoleStudent, *filter.TeacherID)
	default:
		return nil, fmt.Errorf("%w: unsupported target group %q", domain.ErrValidation, group)
	}

	var ids []int64
	if err := query.Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	return dedupeIDs(ids), nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
