package migrations

import (
	"github.com/edurelay/notify-engine/internal/directory"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createDirectoryTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_directory_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&directory.UserModel{},
				&directory.SettingModel{},
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&directory.SettingModel{},
				&directory.UserModel{},
			)
		},
	}
}
