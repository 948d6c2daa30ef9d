package migrations

import (
	"github.com/edurelay/notify-engine/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createBroadcastTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_broadcast_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CampaignModel{}, &repository.RecipientModel{}); err != nil {
				return err
			}
			statements := []string{
				`ALTER TABLE broadcast_recipients
					ADD CONSTRAINT fk_broadcast_recipients_campaign
					FOREIGN KEY (campaign_id) REFERENCES broadcast_campaigns (id) ON DELETE CASCADE`,
				// The worker's batch query: unattempted rows of one campaign.
				`CREATE INDEX IF NOT EXISTS idx_broadcast_recipients_unattempted ON broadcast_recipients (campaign_id, created_at) WHERE channel_sent = FALSE AND channel_error IS NULL`,
				// The campaign sweep picks up due scheduled campaigns.
				`CREATE INDEX IF NOT EXISTS idx_broadcast_campaigns_scheduled ON broadcast_campaigns (scheduled_at) WHERE status = 'scheduled'`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.RecipientModel{},
				&repository.CampaignModel{},
			)
		},
	}
}
