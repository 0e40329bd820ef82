package repository

import (
	"time"

	"github.com/letterdesk/submission-engine/internal/domain"
)

// SubmissionModel is the persistence model for the submissions table.
type SubmissionModel struct {
	ID                string                `gorm:"type:uuid;primaryKey"`
	RecommendationID  string                `gorm:"type:uuid;not null"`
	UniversityID      string                `gorm:"type:uuid;not null"`
	UserID            string                `gorm:"type:uuid;not null"`
	DeliveryMethod    domain.DeliveryMethod `gorm:"type:varchar(10);not null"`
	Status            domain.Status         `gorm:"type:varchar(20);not null"`
	ExternalReference *string               `gorm:"type:varchar(255)"`
	ErrorMessage      *string               `gorm:"type:text"`
	RetryCount        int                   `gorm:"not null;default:0"`
	MaxRetries        int                   `gorm:"not null;default:3"`
	Priority          int                   `gorm:"not null;default:5"`
	SubmittedAt       *time.Time            `gorm:"type:timestamptz"`
	ConfirmedAt       *time.Time            `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (SubmissionModel) TableName() string {
	return "submissions"
}

// QueueEntryModel is the persistence model for submission_queue.
type QueueEntryModel struct {
	SubmissionID      string    `gorm:"type:uuid;primaryKey"`
	Priority          int       `gorm:"not null;default:5"`
	ScheduledAt       time.Time `gorm:"type:timestamptz;not null"`
	Attempts          int       `gorm:"not null;default:0"`
	MaxAttempts       int       `gorm:"not null;default:3"`
	BackoffMultiplier float64   `gorm:"not null;default:2"`
	Claimed           bool      `gorm:"not null;default:false"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (QueueEntryModel) TableName() string {
	return "submission_queue"
}

func submissionModelFromDomain(s *domain.Submission) *SubmissionModel {
	if s == nil {
		return nil
	}

	return &SubmissionModel{
		ID:                s.ID,
		RecommendationID:  s.RecommendationID,
		UniversityID:      s.UniversityID,
		UserID:            s.UserID,
		DeliveryMethod:    s.DeliveryMethod,
		Status:            s.Status,
		ExternalReference: s.ExternalReference,
		ErrorMessage:      s.ErrorMessage,
		RetryCount:        s.RetryCount,
		MaxRetries:        s.MaxRetries,
		Priority:          s.Priority,
		SubmittedAt:       s.SubmittedAt,
		ConfirmedAt:       s.ConfirmedAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func submissionModelToDomain(m *SubmissionModel) *domain.Submission {
	if m == nil {
		return nil
	}

	return &domain.Submission{
		ID:                m.ID,
		RecommendationID:  m.RecommendationID,
		UniversityID:      m.UniversityID,
		UserID:            m.UserID,
		DeliveryMethod:    m.DeliveryMethod,
		Status:            m.Status,
		ExternalReference: m.ExternalReference,
		ErrorMessage:      m.ErrorMessage,
		RetryCount:        m.RetryCount,
		MaxRetries:        m.MaxRetries,
		Priority:          m.Priority,
		SubmittedAt:       m.SubmittedAt,
		ConfirmedAt:       m.ConfirmedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func queueEntryModelFromDomain(e *domain.QueueEntry) *QueueEntryModel {
	if e == nil {
		return nil
	}

	return &QueueEntryModel{
		SubmissionID:      e.SubmissionID,
		Priority:          e.Priority,
		ScheduledAt:       e.ScheduledAt,
		Attempts:          e.Attempts,
		MaxAttempts:       e.MaxAttempts,
		BackoffMultiplier: e.BackoffMultiplier,
		Claimed:           e.Claimed,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func queueEntryModelToDomain(m *QueueEntryModel) *domain.QueueEntry {
	if m == nil {
		return nil
	}

	return &domain.QueueEntry{
		SubmissionID:      m.SubmissionID,
		Priority:          m.Priority,
		ScheduledAt:       m.ScheduledAt,
		Attempts:          m.Attempts,
		MaxAttempts:       m.MaxAttempts,
		BackoffMultiplier: m.BackoffMultiplier,
		Claimed:           m.Claimed,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
