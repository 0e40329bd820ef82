package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/letterdesk/submission-engine/internal/domain"
	"gorm.io/gorm"
)

type QueueRepository interface {
	// Enqueue creates a queue entry. Returns ErrAlreadyQueued when an entry
	// already exists for the submission.
	Enqueue(ctx context.Context, entry *domain.QueueEntry) error

	// DequeueReady atomically claims up to limit unclaimed entries whose
	// scheduledAt has passed, ordered by priority desc, scheduledAt asc.
	// A concurrently running scheduler cannot claim the same entry.
	DequeueReady(ctx context.Context, limit int, now time.Time) ([]domain.QueueEntry, error)

	// Release clears the claim so the entry becomes eligible again.
	Release(ctx context.Context, submissionID string) error

	Delete(ctx context.Context, submissionID string) error
	GetBySubmissionID(ctx context.Context, submissionID string) (*domain.QueueEntry, error)
	List(ctx context.Context, page, pageSize int) ([]domain.QueueEntry, int64, error)

	// ListStalled returns entries that show no progress: claimed entries whose
	// claim is older than claimedBefore, and unclaimed entries that became
	// eligible before readyBefore but were never picked up.
	ListStalled(ctx context.Context, claimedBefore, readyBefore time.Time, limit int) ([]domain.QueueEntry, error)
}

type GormQueueRepo struct {
	db *gorm.DB
}

func NewGormQueueRepo(db *gorm.DB) *GormQueueRepo {
	return &GormQueueRepo{db: db}
}

func (r *GormQueueRepo) Enqueue(ctx context.Context, entry *domain.QueueEntry) error {
	if entry == nil {
		return domain.ErrValidation
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	model := queueEntryModelFromDomain(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyQueued
		}
		return err
	}

	*entry = *queueEntryModelToDomain(model)
	return nil
}

func (r *GormQueueRepo) DequeueReady(ctx context.Context, limit int, now time.Time) ([]domain.QueueEntry, error) {
	if limit < 1 {
		return nil, nil
	}

	var models []QueueEntryModel
	err := r.db.WithContext(ctx).Raw(`
		UPDATE submission_queue SET claimed = TRUE, updated_at = ?
		WHERE submission_id IN (
			SELECT submission_id FROM submission_queue
			WHERE claimed = FALSE AND scheduled_at <= ?
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`, now, now, limit).Scan(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.QueueEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *queueEntryModelToDomain(&models[i]))
	}

	// RETURNING does not guarantee order; restore the dispatch ordering.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].ScheduledAt.Before(entries[j].ScheduledAt)
	})

	return entries, nil
}

func (r *GormQueueRepo) Release(ctx context.Context, submissionID string) error {
	result := r.db.WithContext(ctx).
		Model(&QueueEntryModel{}).
		Where("submission_id = ?", submissionID).
		Update("claimed", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormQueueRepo) Delete(ctx context.Context, submissionID string) error {
	return r.db.WithContext(ctx).
		Delete(&QueueEntryModel{}, "submission_id = ?", submissionID).Error
}

func (r *GormQueueRepo) GetBySubmissionID(ctx context.Context, submissionID string) (*domain.QueueEntry, error) {
	var model QueueEntryModel
	err := r.db.WithContext(ctx).First(&model, "submission_id = ?", submissionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return queueEntryModelToDomain(&model), nil
}

func (r *GormQueueRepo) List(ctx context.Context, page, pageSize int) ([]domain.QueueEntry, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&QueueEntryModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page = max(page, 1)
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []QueueEntryModel
	err := r.db.WithContext(ctx).
		Order("priority DESC, scheduled_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	entries := make([]domain.QueueEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *queueEntryModelToDomain(&models[i]))
	}

	return entries, total, nil
}

func (r *GormQueueRepo) ListStalled(ctx context.Context, claimedBefore, readyBefore time.Time, limit int) ([]domain.QueueEntry, error) {
	var models []QueueEntryModel
	err := r.db.WithContext(ctx).
		Where("(claimed = TRUE AND updated_at <= ?) OR (claimed = FALSE AND scheduled_at <= ?)", claimedBefore, readyBefore).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.QueueEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *queueEntryModelToDomain(&models[i]))
	}
	return entries, nil
}
