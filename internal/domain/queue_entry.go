package domain

import (
	"fmt"
	"time"
)

// Backoff defaults applied when a queue entry does not carry its own values.
const (
	DefaultMaxAttempts       = 3
	DefaultBackoffMultiplier = 2.0
)

// QueueEntry is the scheduling metadata for a submission awaiting dispatch.
// At most one entry exists per submission; it is deleted once the submission
// reaches a terminal state.
type QueueEntry struct {
	SubmissionID      string `gorm:"type:uuid;primaryKey"`
	Priority          int    `gorm:"not null;default:5"`
	ScheduledAt       time.Time
	Attempts          int     `gorm:"not null;default:0"`
	MaxAttempts       int     `gorm:"not null;default:3"`
	BackoffMultiplier float64 `gorm:"not null;default:2"`
	Claimed           bool    `gorm:"not null;default:false"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (e *QueueEntry) Validate() error {
	if e.SubmissionID == "" {
		return fmt.Errorf("%w: submission id is required", ErrValidation)
	}
	if e.Priority < MinPriority || e.Priority > MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d (got %d)", ErrValidation, MinPriority, MaxPriority, e.Priority)
	}
	if e.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must be non-negative", ErrValidation)
	}
	if e.Attempts < 0 {
		return fmt.Errorf("%w: attempts must be non-negative", ErrValidation)
	}
	if e.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff multiplier must be >= 1 (got %g)", ErrValidation, e.BackoffMultiplier)
	}
	return nil
}

// Exhausted reports whether the entry has no retry budget left.
func (e *QueueEntry) Exhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// NextDelay computes the backoff delay for the upcoming retry:
// min(maxDelay, baseDelay * multiplier^attempts). The delay is
// non-decreasing in attempts and capped by maxDelay.
func (e *QueueEntry) NextDelay(baseDelay, maxDelay time.Duration) time.Duration {
	if baseDelay <= 0 {
		return 0
	}

	multiplier := e.BackoffMultiplier
	if multiplier < 1 {
		multiplier = DefaultBackoffMultiplier
	}

	delay := float64(baseDelay)
	for i := 0; i < e.Attempts; i++ {
		delay *= multiplier
		if time.Duration(delay) >= maxDelay {
			return maxDelay
		}
	}

	if time.Duration(delay) > maxDelay {
		return maxDelay
	}
	return time.Duration(delay)
}
