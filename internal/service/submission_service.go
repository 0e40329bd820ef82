package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/letterdesk/submission-engine/internal/domain"
	"github.com/letterdesk/submission-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	maxFanOutSize       = 100
	retryAllFailedLimit = 500
)

// UniversityTarget selects one recipient in a fan-out request. Method is
// required; Priority and MaxRetries fall back to defaults when zero.
type UniversityTarget struct {
	UniversityID string
	Method       domain.DeliveryMethod
	Priority     int
	MaxRetries   int
}

// CreateSubmissionsRequest fans a finalized recommendation out to its
// target universities, one submission per university.
type CreateSubmissionsRequest struct {
	RecommendationID string
	UserID           string
	Targets          []UniversityTarget
}

// SubmissionService covers creation and the administrative control surface.
type SubmissionService struct {
	submissions repository.SubmissionRepository
	queue       repository.QueueRepository
	logger      *zap.Logger
	now         func() time.Time

	defaultMaxRetries int
}

func NewSubmissionService(
	submissions repository.SubmissionRepository,
	queue repository.QueueRepository,
	defaultMaxRetries int,
	logger *zap.Logger,
) (*SubmissionService, error) {
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue repository is required")
	}
	if defaultMaxRetries < 1 {
		defaultMaxRetries = domain.DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SubmissionService{
		submissions:       submissions,
		queue:             queue,
		logger:            logger,
		now:               time.Now,
		defaultMaxRetries: defaultMaxRetries,
	}, nil
}

// Create inserts one pending submission plus queue entry per target
// university, atomically. A (recommendation, university) pair that already
// exists surfaces as ErrConflict via the unique index.
func (s *SubmissionService) Create(ctx context.Context, req CreateSubmissionsRequest) ([]domain.Submission, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req.RecommendationID = strings.TrimSpace(req.RecommendationID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.RecommendationID == "" {
		return nil, fmt.Errorf("%w: recommendation id is required", domain.ErrValidation)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("%w: at least one university target is required", domain.ErrValidation)
	}
	if len(req.Targets) > maxFanOutSize {
		return nil, fmt.Errorf("%w: fan-out exceeds %d targets", domain.ErrValidation, maxFanOutSize)
	}

	seen := make(map[string]struct{}, len(req.Targets))
	now := s.now().UTC()

	submissions := make([]*domain.Submission, 0, len(req.Targets))
	entries := make([]*domain.QueueEntry, 0, len(req.Targets))

	for _, target := range req.Targets {
		universityID := strings.TrimSpace(target.UniversityID)
		if universityID == "" {
			return nil, fmt.Errorf("%w: university id is required", domain.ErrValidation)
		}
		if _, dup := seen[universityID]; dup {
			return nil, fmt.Errorf("%w: duplicate university %s in fan-out", domain.ErrValidation, universityID)
		}
		seen[universityID] = struct{}{}

		priority := target.Priority
		if priority == 0 {
			priority = domain.DefaultPriority
		}
		maxRetries := target.MaxRetries
		if maxRetries == 0 {
			maxRetries = s.defaultMaxRetries
		}

		submission := &domain.Submission{
			ID:               uuid.NewString(),
			RecommendationID: req.RecommendationID,
			UniversityID:     universityID,
			UserID:           req.UserID,
			DeliveryMethod:   target.Method,
			Status:           domain.StatusPending,
			MaxRetries:       maxRetries,
			Priority:         priority,
		}
		if err := submission.Validate(); err != nil {
			return nil, err
		}

		entry := &domain.QueueEntry{
			SubmissionID:      submission.ID,
			Priority:          priority,
			ScheduledAt:       now,
			MaxAttempts:       maxRetries,
			BackoffMultiplier: domain.DefaultBackoffMultiplier,
		}
		if err := entry.Validate(); err != nil {
			return nil, err
		}

		submissions = append(submissions, submission)
		entries = append(entries, entry)
	}

	if err := s.submissions.CreateBatchWithQueue(ctx, submissions, entries); err != nil {
		if isDuplicateError(err) {
			return nil, fmt.Errorf("%w: submission already exists for this recommendation and university", domain.ErrConflict)
		}
		return nil, err
	}

	s.logger.Info("submissions created",
		zap.String("recommendationId", req.RecommendationID),
		zap.Int("count", len(submissions)),
	)

	created := make([]domain.Submission, 0, len(submissions))
	for _, sub := range submissions {
		created = append(created, *sub)
	}
	return created, nil
}

func (s *SubmissionService) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: submission id is required", domain.ErrValidation)
	}
	return s.submissions.GetByID(ctx, strings.TrimSpace(id))
}

func (s *SubmissionService) List(ctx context.Context, params repository.ListParams) ([]domain.Submission, int64, error) {
	return s.submissions.List(ctx, params)
}

// Retry returns a failed submission to the queue with a clean retry budget.
func (s *SubmissionService) Retry(ctx context.Context, id string) (*domain.Submission, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: submission id is required", domain.ErrValidation)
	}

	submission, err := s.submissions.ResetForRetry(ctx, strings.TrimSpace(id), s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.logger.Info("submission requeued for retry", zap.String("submissionId", submission.ID))
	return submission, nil
}

// RetryAllFailed requeues every currently failed submission, sequentially.
// Individual failures are logged and skipped so one bad record does not
// abort the sweep.
func (s *SubmissionService) RetryAllFailed(ctx context.Context) (int, error) {
	failed, err := s.submissions.ListFailed(ctx, retryAllFailedLimit)
	if err != nil {
		return 0, err
	}

	retried := 0
	for i := range failed {
		if _, err := s.submissions.ResetForRetry(ctx, failed[i].ID, s.now().UTC()); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrAlreadyQueued) {
				// Changed state or got requeued since the listing; skip.
				continue
			}
			s.logger.Error("failed to requeue submission",
				zap.String("submissionId", failed[i].ID),
				zap.Error(err),
			)
			continue
		}
		retried++
	}

	s.logger.Info("failed submissions requeued", zap.Int("count", retried))
	return retried, nil
}

func (s *SubmissionService) SetPriority(ctx context.Context, id string, priority int) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: submission id is required", domain.ErrValidation)
	}
	if priority < domain.MinPriority || priority > domain.MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d (got %d)",
			domain.ErrValidation, domain.MinPriority, domain.MaxPriority, priority)
	}
	return s.submissions.SetPriority(ctx, strings.TrimSpace(id), priority)
}

func (s *SubmissionService) ListQueue(ctx context.Context, page, pageSize int) ([]domain.QueueEntry, int64, error) {
	return s.queue.List(ctx, page, pageSize)
}

func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
