package migrations

import (
	"github.com/edurelay/notify-engine/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			indexes := []string{
				// The inbox badge query: unread, unarchived rows per recipient.
				`CREATE INDEX IF NOT EXISTS idx_notifications_recipient_unread ON notifications (recipient_id, created_at DESC) WHERE is_read = FALSE AND is_archived = FALSE`,
				// The scheduler sweep scans only pending deferred rows.
				`CREATE INDEX IF NOT EXISTS idx_notifications_scheduled_due ON notifications (scheduled_at) WHERE scheduled_status = 'pending'`,
				// Retention purges by archive age.
				`CREATE INDEX IF NOT EXISTS idx_notifications_archived_at ON notifications (archived_at) WHERE is_archived = TRUE`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
