package migrations

import (
	"github.com/edurelay/notify-engine/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createDeliveryQueueEntriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_delivery_queue_entries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryEntryModel{}); err != nil {
				return err
			}
			statements := []string{
				// Entries die with their notification.
				`ALTER TABLE delivery_queue_entries
					ADD CONSTRAINT fk_delivery_entries_notification
					FOREIGN KEY (notification_id) REFERENCES notifications (id) ON DELETE CASCADE`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_entries_notification_id ON delivery_queue_entries (notification_id)`,
				// The retry sweep scans only pending entries by due time.
				`CREATE INDEX IF NOT EXISTS idx_delivery_entries_due ON delivery_queue_entries (scheduled_at) WHERE status = 'pending'`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryEntryModel{})
		},
	}
}
