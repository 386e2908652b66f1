package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/tokenops/custody-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_batch_requests",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.BatchRequestModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.BatchRequestModel{})
			},
		},
		{
			ID: "000002_create_batch_details",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.BatchDetailModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_batch_details_state ON batch_details (batch_id, sent, attempt_count)`,
					`CREATE INDEX IF NOT EXISTS idx_batch_details_updated ON batch_details (batch_id, updated_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.BatchDetailModel{})
			},
		},
		{
			ID: "000003_create_contracts",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.ContractModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.ContractModel{})
			},
		},
	})

	return m.Migrate()
}
