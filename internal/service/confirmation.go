package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/letterdesk/submission-engine/internal/domain"
	"github.com/letterdesk/submission-engine/internal/observability"
	"github.com/letterdesk/submission-engine/internal/repository"
	"go.uber.org/zap"
)

// ConfirmationRequest identifies a submission by internal id or by the
// external reference the recipient echoed back.
type ConfirmationRequest struct {
	SubmissionID      string
	ExternalReference string
	ConfirmedAt       *time.Time
	// Force is the administrative override: confirm regardless of the
	// current non-confirmed state.
	Force bool
}

// ConfirmationService processes confirmation signals from recipient
// universities, whether delivered by webhook or entered by an administrator.
type ConfirmationService struct {
	submissions repository.SubmissionRepository
	bridge      StatusNotifier
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewConfirmationService(
	submissions repository.SubmissionRepository,
	bridge StatusNotifier,
	logger *zap.Logger,
) (*ConfirmationService, error) {
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ConfirmationService{
		submissions: submissions,
		bridge:      bridge,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *ConfirmationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Confirm applies a confirmation signal. A duplicate confirmation is a
// no-op success. A confirmation for a submission that never reached
// submitted is rejected with ErrInvalidTransition unless forced.
func (s *ConfirmationService) Confirm(ctx context.Context, req ConfirmationRequest) (*domain.Submission, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	submission, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("submissionId", submission.ID))

	if submission.Status == domain.StatusConfirmed {
		logger.Info("duplicate confirmation ignored")
		if s.metrics != nil {
			s.metrics.IncConfirmation("duplicate")
		}
		return submission, nil
	}

	confirmedAt := s.now().UTC()
	if req.ConfirmedAt != nil && !req.ConfirmedAt.IsZero() {
		confirmedAt = req.ConfirmedAt.UTC()
	}

	switch {
	case submission.Status == domain.StatusSubmitted:
		if err := s.submissions.MarkConfirmed(ctx, submission.ID, confirmedAt); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return s.resolveConflict(ctx, submission.ID, logger)
			}
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.IncConfirmation("confirmed")
		}

	case req.Force:
		if err := s.submissions.ForceConfirm(ctx, submission.ID, confirmedAt); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return s.resolveConflict(ctx, submission.ID, logger)
			}
			return nil, err
		}
		logger.Warn("confirmation forced by administrator",
			zap.String("previousStatus", submission.Status.String()),
		)
		if s.metrics != nil {
			s.metrics.IncConfirmation("forced")
		}

	default:
		return nil, fmt.Errorf("%w: cannot confirm submission in %s state",
			domain.ErrInvalidTransition, submission.Status)
	}

	confirmed, err := s.submissions.GetByID(ctx, submission.ID)
	if err != nil {
		return nil, err
	}

	logger.Info("submission confirmed",
		zap.Time("confirmedAt", confirmedAt),
	)
	if s.bridge != nil {
		s.bridge.StatusChanged(ctx, *confirmed)
	}

	return confirmed, nil
}

func (s *ConfirmationService) resolve(ctx context.Context, req ConfirmationRequest) (*domain.Submission, error) {
	id := strings.TrimSpace(req.SubmissionID)
	ref := strings.TrimSpace(req.ExternalReference)

	switch {
	case id != "":
		return s.submissions.GetByID(ctx, id)
	case ref != "":
		return s.submissions.GetByExternalReference(ctx, ref)
	default:
		return nil, fmt.Errorf("%w: submission id or external reference is required", domain.ErrValidation)
	}
}

// resolveConflict handles a CAS miss: a concurrent writer changed the status
// between read and update. A now-confirmed submission is a duplicate success.
func (s *ConfirmationService) resolveConflict(
	ctx context.Context,
	id string,
	logger *zap.Logger,
) (*domain.Submission, error) {
	current, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status == domain.StatusConfirmed {
		logger.Info("submission confirmed concurrently")
		if s.metrics != nil {
			s.metrics.IncConfirmation("duplicate")
		}
		return current, nil
	}

	return nil, fmt.Errorf("%w: cannot confirm submission in %s state",
		domain.ErrInvalidTransition, current.Status)
}
