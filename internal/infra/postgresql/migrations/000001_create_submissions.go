package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/letterdesk/submission-engine/internal/repository"
	"gorm.io/gorm"
)

func createSubmissionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_submissions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SubmissionModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_submissions_status_method_created ON submissions (status, delivery_method, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_submissions_recommendation_id ON submissions (recommendation_id)`,
				`CREATE INDEX IF NOT EXISTS idx_submissions_user_id ON submissions (user_id)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_external_reference ON submissions (external_reference) WHERE external_reference IS NOT NULL`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_recommendation_university ON submissions (recommendation_id, university_id)`,
				`CREATE INDEX IF NOT EXISTS idx_submissions_stale_submitted ON submissions (submitted_at) WHERE status = 'submitted'`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubmissionModel{})
		},
	}
}
