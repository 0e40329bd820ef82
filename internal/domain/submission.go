package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the delivery lifecycle state of a submission.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition can occur.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// CanTransitionTo encodes the legal status transitions:
// pending -> submitted -> confirmed, pending|submitted -> failed.
// failed -> pending is reserved for the explicit manual retry action.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSubmitted || next == StatusFailed
	case StatusSubmitted:
		return next == StatusConfirmed || next == StatusFailed
	default:
		return false
	}
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryMethod represents the transport used to hand a letter off.
type DeliveryMethod string

const (
	MethodAPI    DeliveryMethod = "api"
	MethodEmail  DeliveryMethod = "email"
	MethodManual DeliveryMethod = "manual"
)

func (m DeliveryMethod) String() string { return string(m) }

func (m DeliveryMethod) IsValid() bool {
	switch m {
	case MethodAPI, MethodEmail, MethodManual:
		return true
	}
	return false
}

func ParseDeliveryMethodFromString(s string) (DeliveryMethod, error) {
	m := DeliveryMethod(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery method %q", ErrValidation, s)
	}
	return m, nil
}

// Priority bounds: higher is dispatched first.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Submission is one (recommendation, university) delivery unit.
type Submission struct {
	ID                string         `gorm:"type:uuid;primaryKey"`
	RecommendationID  string         `gorm:"type:uuid;not null"`
	UniversityID      string         `gorm:"type:uuid;not null"`
	UserID            string         `gorm:"type:uuid;not null"`
	DeliveryMethod    DeliveryMethod `gorm:"type:varchar(10);not null"`
	Status            Status         `gorm:"type:varchar(20);not null"`
	ExternalReference *string        `gorm:"type:varchar(255)"`
	ErrorMessage      *string        `gorm:"type:text"`
	RetryCount        int            `gorm:"not null;default:0"`
	MaxRetries        int            `gorm:"not null;default:3"`
	Priority          int            `gorm:"not null;default:5"`
	SubmittedAt       *time.Time
	ConfirmedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s *Submission) Validate() error {
	if s.RecommendationID == "" {
		return fmt.Errorf("%w: recommendation id is required", ErrValidation)
	}
	if s.UniversityID == "" {
		return fmt.Errorf("%w: university id is required", ErrValidation)
	}
	if s.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !s.DeliveryMethod.IsValid() {
		return fmt.Errorf("%w: invalid delivery method %q", ErrValidation, s.DeliveryMethod)
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, s.Status)
	}
	if s.Priority < MinPriority || s.Priority > MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d (got %d)", ErrValidation, MinPriority, MaxPriority, s.Priority)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be non-negative", ErrValidation)
	}
	if s.RetryCount < 0 || s.RetryCount > s.MaxRetries {
		return fmt.Errorf("%w: retry count %d out of range [0,%d]", ErrValidation, s.RetryCount, s.MaxRetries)
	}
	return nil
}
