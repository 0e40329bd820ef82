package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/letterdesk/submission-engine/internal/repository"
	"gorm.io/gorm"
)

func createSubmissionQueueTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_submission_queue",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.QueueEntryModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_queue_ready ON submission_queue (scheduled_at, priority DESC) WHERE claimed = FALSE`,
				`CREATE INDEX IF NOT EXISTS idx_queue_claimed ON submission_queue (updated_at) WHERE claimed = TRUE`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.QueueEntryModel{})
		},
	}
}
