package notify

import (
	"context"
	"time"

	"github.com/letterdesk/submission-engine/internal/domain"
	"go.uber.org/zap"
)

// StatusEvent is pushed to the owning user's live sessions on every
// observable transition. Clients treat (submissionId, status) as an
// idempotent marker, so duplicate pushes are harmless.
type StatusEvent struct {
	SubmissionID      string        `json:"submissionId"`
	RecommendationID  string        `json:"recommendationId"`
	UniversityID      string        `json:"universityId"`
	Status            domain.Status `json:"status"`
	ExternalReference *string       `json:"externalReference,omitempty"`
	ErrorMessage      *string       `json:"errorMessage,omitempty"`
	OccurredAt        time.Time     `json:"occurredAt"`
}

// SessionRegistry pushes an event to every live session of a user
// (external collaborator).
type SessionRegistry interface {
	Push(ctx context.Context, userID string, event StatusEvent) error
}

// Bridge delivers status-change events to the owning user, best-effort.
// There is no durable queue behind it: an offline user simply misses the
// event and recovers state by polling the submission record.
type Bridge struct {
	registry SessionRegistry
	logger   *zap.Logger
	now      func() time.Time
}

func NewBridge(registry SessionRegistry, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Bridge{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// StatusChanged pushes the submission's current state to its owner.
// Registry failures are logged and swallowed; the submission record stays
// the single source of truth.
func (b *Bridge) StatusChanged(ctx context.Context, submission domain.Submission) {
	if b == nil || b.registry == nil {
		return
	}

	event := StatusEvent{
		SubmissionID:      submission.ID,
		RecommendationID:  submission.RecommendationID,
		UniversityID:      submission.UniversityID,
		Status:            submission.Status,
		ExternalReference: submission.ExternalReference,
		ErrorMessage:      submission.ErrorMessage,
		OccurredAt:        b.now().UTC(),
	}

	if err := b.registry.Push(ctx, submission.UserID, event); err != nil {
		b.logger.Warn("session push failed",
			zap.String("submissionId", submission.ID),
			zap.String("userId", submission.UserID),
			zap.String("status", submission.Status.String()),
			zap.Error(err),
		)
	}
}
