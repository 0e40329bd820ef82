package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/letterdesk/submission-engine/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Status           *domain.Status
	DeliveryMethod   *domain.DeliveryMethod
	RecommendationID *string
	From             *time.Time
	To               *time.Time
	Page             int
	PageSize         int
}

type SubmissionRepository interface {
	CreateBatchWithQueue(ctx context.Context, submissions []*domain.Submission, entries []*domain.QueueEntry) error
	GetByID(ctx context.Context, id string) (*domain.Submission, error)
	GetByExternalReference(ctx context.Context, ref string) (*domain.Submission, error)
	List(ctx context.Context, params ListParams) ([]domain.Submission, int64, error)

	// CompleteDispatch moves a pending submission to submitted and removes its
	// queue entry in one transaction. Returns ErrConflict when the submission
	// is no longer pending (e.g. a concurrent confirmation or failure).
	CompleteDispatch(ctx context.Context, id string, externalRef string, submittedAt time.Time) error

	// RescheduleRetry records a transient failure: increments retry counters on
	// both tables, releases the claim and sets the next eligible attempt time.
	RescheduleRetry(ctx context.Context, id string, errMsg string, scheduledAt time.Time) error

	// FailSubmission moves a non-terminal submission to terminal failed and
	// deletes its queue entry.
	FailSubmission(ctx context.Context, id string, errMsg string) error

	// MarkConfirmed moves a submitted submission to confirmed. Returns
	// ErrConflict when the submission is not in submitted state.
	MarkConfirmed(ctx context.Context, id string, confirmedAt time.Time) error

	// ForceConfirm is the administrative override: it confirms regardless of
	// the current non-confirmed state and removes any queue entry.
	ForceConfirm(ctx context.Context, id string, confirmedAt time.Time) error

	// ResetForRetry is the explicit manual retry action: failed -> pending with
	// retryCount reset to 0 and a fresh queue entry.
	ResetForRetry(ctx context.Context, id string, scheduledAt time.Time) (*domain.Submission, error)

	// RequeueStale returns a submitted-but-unconfirmed submission to pending
	// with a fresh queue entry so it gets re-delivered. Used by the monitoring
	// loop's auto-retry policy.
	RequeueStale(ctx context.Context, id string, scheduledAt time.Time) error

	SetPriority(ctx context.Context, id string, priority int) error
	ListFailed(ctx context.Context, limit int) ([]domain.Submission, error)
	ListStaleSubmitted(ctx context.Context, submittedBefore time.Time, limit int) ([]domain.Submission, error)
	CountOutcomesSince(ctx context.Context, since time.Time) (failed int64, total int64, err error)
}

type GormSubmissionRepo struct {
	db *gorm.DB
}

func NewGormSubmissionRepo(db *gorm.DB) *GormSubmissionRepo {
	return &GormSubmissionRepo{db: db}
}

func (r *GormSubmissionRepo) CreateBatchWithQueue(
	ctx context.Context,
	submissions []*domain.Submission,
	entries []*domain.QueueEntry,
) error {
	models := make([]SubmissionModel, 0, len(submissions))
	modelIndexes := make([]int, 0, len(submissions))
	for i, s := range submissions {
		model := submissionModelFromDomain(s)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	entryModels := make([]QueueEntryModel, 0, len(entries))
	for _, e := range entries {
		if model := queueEntryModelFromDomain(e); model != nil {
			entryModels = append(entryModels, *model)
		}
	}

	if len(models) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&models, 100).Error; err != nil {
			return err
		}
		if len(entryModels) == 0 {
			return nil
		}
		return tx.CreateInBatches(&entryModels, 100).Error
	})
	if err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(submissions) && submissions[idx] != nil {
			*submissions[idx] = *submissionModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormSubmissionRepo) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	var model SubmissionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return submissionModelToDomain(&model), nil
}

func (r *GormSubmissionRepo) GetByExternalReference(ctx context.Context, ref string) (*domain.Submission, error) {
	var model SubmissionModel
	err := r.db.WithContext(ctx).
		Where("external_reference = ?", ref).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return submissionModelToDomain(&model), nil
}

func (r *GormSubmissionRepo) List(ctx context.Context, params ListParams) ([]domain.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&SubmissionModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.DeliveryMethod != nil {
		query = query.Where("delivery_method = ?", *params.DeliveryMethod)
	}
	if params.RecommendationID != nil {
		query = query.Where("recommendation_id = ?", *params.RecommendationID)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []SubmissionModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	submissions := make([]domain.Submission, 0, len(models))
	for i := range models {
		submissions = append(submissions, *submissionModelToDomain(&models[i]))
	}

	return submissions, total, nil
}

func (r *GormSubmissionRepo) CompleteDispatch(ctx context.Context, id string, externalRef string, submittedAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":       domain.StatusSubmitted,
			"submitted_at": submittedAt,
		}
		if externalRef != "" {
			updates["external_reference"] = externalRef
		}

		result := tx.Model(&SubmissionModel{}).
			Where("id = ? AND status = ?", id, domain.StatusPending).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		return tx.Delete(&QueueEntryModel{}, "submission_id = ?", id).Error
	})
}

func (r *GormSubmissionRepo) RescheduleRetry(ctx context.Context, id string, errMsg string, scheduledAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&SubmissionModel{}).
			Where("id = ? AND status = ?", id, domain.StatusPending).
			Updates(map[string]any{
				"retry_count":   gorm.Expr("retry_count + 1"),
				"error_message": errMsg,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		result = tx.Model(&QueueEntryModel{}).
			Where("submission_id = ?", id).
			Updates(map[string]any{
				"attempts":     gorm.Expr("attempts + 1"),
				"scheduled_at": scheduledAt,
				"claimed":      false,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *GormSubmissionRepo) FailSubmission(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&SubmissionModel{}).
			Where("id = ? AND status IN ?", id, []domain.Status{domain.StatusPending, domain.StatusSubmitted}).
			Updates(map[string]any{
				"status":        domain.StatusFailed,
				"error_message": errMsg,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		return tx.Delete(&QueueEntryModel{}, "submission_id = ?", id).Error
	})
}

func (r *GormSubmissionRepo) MarkConfirmed(ctx context.Context, id string, confirmedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("id = ? AND status = ?", id, domain.StatusSubmitted).
		Updates(map[string]any{
			"status":       domain.StatusConfirmed,
			"confirmed_at": confirmedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormSubmissionRepo) ForceConfirm(ctx context.Context, id string, confirmedAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&SubmissionModel{}).
			Where("id = ? AND status <> ?", id, domain.StatusConfirmed).
			Updates(map[string]any{
				"status":       domain.StatusConfirmed,
				"confirmed_at": confirmedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		return tx.Delete(&QueueEntryModel{}, "submission_id = ?", id).Error
	})
}

func (r *GormSubmissionRepo) ResetForRetry(ctx context.Context, id string, scheduledAt time.Time) (*domain.Submission, error) {
	var model SubmissionModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&SubmissionModel{}).
			Where("id = ? AND status = ?", id, domain.StatusFailed).
			Updates(map[string]any{
				"status":        domain.StatusPending,
				"retry_count":   0,
				"error_message": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if err := tx.First(&SubmissionModel{}, "id = ?", id).Error; errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return domain.ErrInvalidTransition
		}

		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}

		entry := QueueEntryModel{
			SubmissionID:      id,
			Priority:          model.Priority,
			ScheduledAt:       scheduledAt,
			Attempts:          0,
			MaxAttempts:       max(model.MaxRetries, 1),
			BackoffMultiplier: domain.DefaultBackoffMultiplier,
		}
		if err := tx.Create(&entry).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyQueued
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return submissionModelToDomain(&model), nil
}

func (r *GormSubmissionRepo) RequeueStale(ctx context.Context, id string, scheduledAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&SubmissionModel{}).
			Where("id = ? AND status = ?", id, domain.StatusSubmitted).
			Updates(map[string]any{
				"status":      domain.StatusPending,
				"retry_count": 0,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		var model SubmissionModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}

		entry := QueueEntryModel{
			SubmissionID:      id,
			Priority:          model.Priority,
			ScheduledAt:       scheduledAt,
			Attempts:          0,
			MaxAttempts:       max(model.MaxRetries, 1),
			BackoffMultiplier: domain.DefaultBackoffMultiplier,
		}
		if err := tx.Create(&entry).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyQueued
			}
			return err
		}
		return nil
	})
}

func (r *GormSubmissionRepo) SetPriority(ctx context.Context, id string, priority int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&SubmissionModel{}).
			Where("id = ?", id).
			Update("priority", priority)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}

		// The queue entry may already be gone for terminal submissions.
		return tx.Model(&QueueEntryModel{}).
			Where("submission_id = ?", id).
			Update("priority", priority).Error
	})
}

func (r *GormSubmissionRepo) ListFailed(ctx context.Context, limit int) ([]domain.Submission, error) {
	var models []SubmissionModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusFailed).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	submissions := make([]domain.Submission, 0, len(models))
	for i := range models {
		submissions = append(submissions, *submissionModelToDomain(&models[i]))
	}
	return submissions, nil
}

func (r *GormSubmissionRepo) ListStaleSubmitted(ctx context.Context, submittedBefore time.Time, limit int) ([]domain.Submission, error) {
	var models []SubmissionModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND submitted_at <= ?", domain.StatusSubmitted, submittedBefore).
		Order("submitted_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	submissions := make([]domain.Submission, 0, len(models))
	for i := range models {
		submissions = append(submissions, *submissionModelToDomain(&models[i]))
	}
	return submissions, nil
}

func (r *GormSubmissionRepo) CountOutcomesSince(ctx context.Context, since time.Time) (int64, int64, error) {
	var failed int64
	err := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("status = ? AND updated_at >= ?", domain.StatusFailed, since).
		Count(&failed).Error
	if err != nil {
		return 0, 0, err
	}

	var total int64
	err = r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("updated_at >= ?", since).
		Count(&total).Error
	if err != nil {
		return 0, 0, err
	}

	return failed, total, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
