package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/letterdesk/submission-engine/internal/deliverer"
	"github.com/letterdesk/submission-engine/internal/domain"
	"github.com/letterdesk/submission-engine/internal/observability"
	"github.com/letterdesk/submission-engine/internal/ratelimit"
	"github.com/letterdesk/submission-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minSchedulerInterval = 2 * time.Second
	minWorkerConcurrency = 1
	defaultBatchLimit    = 50
)

// Dispatcher executes one delivery attempt for a submission.
type Dispatcher interface {
	Dispatch(ctx context.Context, submission domain.Submission) (*deliverer.Receipt, error)
}

// StatusNotifier pushes status transitions to the owning user, best-effort.
type StatusNotifier interface {
	StatusChanged(ctx context.Context, submission domain.Submission)
}

// SchedulerConfig bundles the tunables of the dispatch loop.
type SchedulerConfig struct {
	Interval        time.Duration
	BatchLimit      int
	Concurrency     int
	DispatchTimeout time.Duration
	BaseRetryDelay  time.Duration
	MaxRetryDelay   time.Duration
}

// QueueScheduler polls the submission queue, claims ready entries and fans
// delivery attempts out across a bounded worker pool.
type QueueScheduler struct {
	submissions repository.SubmissionRepository
	queue       repository.QueueRepository
	dispatcher  Dispatcher
	limiter     ratelimit.RateLimiter
	bridge      StatusNotifier
	logger      *zap.Logger
	metrics     *observability.Metrics
	cfg         SchedulerConfig
	now         func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewQueueScheduler(
	submissions repository.SubmissionRepository,
	queue repository.QueueRepository,
	dispatcher Dispatcher,
	limiter ratelimit.RateLimiter,
	bridge StatusNotifier,
	cfg SchedulerConfig,
	logger *zap.Logger,
) (*QueueScheduler, error) {
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval < minSchedulerInterval {
		cfg.Interval = minSchedulerInterval
	}
	if cfg.BatchLimit < 1 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.Concurrency < minWorkerConcurrency {
		cfg.Concurrency = minWorkerConcurrency
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = time.Second
	}
	if cfg.MaxRetryDelay < cfg.BaseRetryDelay {
		cfg.MaxRetryDelay = cfg.BaseRetryDelay
	}

	return &QueueScheduler{
		submissions: submissions,
		queue:       queue,
		dispatcher:  dispatcher,
		limiter:     limiter,
		bridge:      bridge,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}, nil
}

func (s *QueueScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start launches the dispatch loop. Calling Start on a running scheduler is
// a no-op.
func (s *QueueScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx)

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batchLimit", s.cfg.BatchLimit),
		zap.Int("concurrency", s.cfg.Concurrency),
	)
	return nil
}

// Stop cancels the loop and waits for in-flight dispatches, bounded by ctx.
// Stopping a stopped scheduler is a no-op.
func (s *QueueScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop timed out: %w", ctx.Err())
	}
}

// Running reports whether the dispatch loop is active.
func (s *QueueScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *QueueScheduler) run(ctx context.Context) {
	defer close(s.done)

	// Initial cycle so already-due entries do not wait for the first tick.
	if err := s.runCycle(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("scheduler cycle failed", zap.Error(err))
			}
		}
	}
}

func (s *QueueScheduler) runCycle(ctx context.Context) error {
	entries, err := s.queue.DequeueReady(ctx, s.cfg.BatchLimit, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to claim ready queue entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i := range entries {
		entry := entries[i]
		g.Go(func() error {
			s.dispatchOne(groupCtx, entry)
			// Errors are recorded per submission; never cancel siblings.
			return nil
		})
	}

	return g.Wait()
}

func (s *QueueScheduler) dispatchOne(ctx context.Context, entry domain.QueueEntry) {
	logger := s.logger.With(zap.String("submissionId", entry.SubmissionID))

	submission, err := s.submissions.GetByID(ctx, entry.SubmissionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("claimed entry has no submission, dropping")
			if err := s.queue.Delete(ctx, entry.SubmissionID); err != nil {
				logger.Error("failed to drop orphan queue entry", zap.Error(err))
			}
			return
		}
		logger.Error("failed to load submission for claimed entry", zap.Error(err))
		s.release(ctx, entry.SubmissionID, logger)
		return
	}

	// Claim conflict: a concurrent confirmation, failure or manual action
	// moved the submission on. Never dispatch it.
	if submission.Status != domain.StatusPending {
		logger.Info("claimed submission no longer pending, dropping entry",
			zap.String("status", submission.Status.String()),
		)
		if err := s.queue.Delete(ctx, entry.SubmissionID); err != nil {
			logger.Error("failed to drop stale queue entry", zap.Error(err))
		}
		return
	}

	method := submission.DeliveryMethod.String()
	if s.metrics != nil {
		s.metrics.IncDispatchInFlight(method)
		defer s.metrics.DecDispatchInFlight(method)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, method); err != nil {
			logger.Warn("rate limiter wait failed, releasing claim", zap.Error(err))
			s.release(ctx, entry.SubmissionID, logger)
			return
		}
	}

	attemptCtx := ctx
	if s.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.DispatchTimeout)
		defer cancel()
	}

	start := s.now()
	receipt, dispatchErr := s.dispatcher.Dispatch(attemptCtx, *submission)
	if s.metrics != nil {
		s.metrics.ObserveDispatchDuration(method, s.now().Sub(start))
	}

	if dispatchErr == nil {
		s.recordSuccess(ctx, submission, receipt, logger)
		return
	}

	s.recordFailure(ctx, submission, entry, dispatchErr, logger)
}

func (s *QueueScheduler) recordSuccess(
	ctx context.Context,
	submission *domain.Submission,
	receipt *deliverer.Receipt,
	logger *zap.Logger,
) {
	submittedAt := s.now().UTC()
	externalRef := ""
	if receipt != nil {
		externalRef = receipt.ExternalReference
	}

	if err := s.submissions.CompleteDispatch(ctx, submission.ID, externalRef, submittedAt); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race against a concurrent state change after a
			// successful hand-off; the entry must still be cleaned up.
			logger.Warn("dispatch completed but submission state changed concurrently")
			if delErr := s.queue.Delete(ctx, submission.ID); delErr != nil {
				logger.Error("failed to delete queue entry after conflict", zap.Error(delErr))
			}
			return
		}
		logger.Error("failed to record successful dispatch", zap.Error(err))
		return
	}

	if s.metrics != nil {
		s.metrics.IncDispatched(submission.DeliveryMethod.String())
	}
	logger.Info("submission dispatched",
		zap.String("method", submission.DeliveryMethod.String()),
		zap.String("externalReference", externalRef),
	)

	if s.bridge != nil {
		updated := *submission
		updated.Status = domain.StatusSubmitted
		updated.SubmittedAt = &submittedAt
		if externalRef != "" {
			updated.ExternalReference = &externalRef
		}
		s.bridge.StatusChanged(ctx, updated)
	}
}

func (s *QueueScheduler) recordFailure(
	ctx context.Context,
	submission *domain.Submission,
	entry domain.QueueEntry,
	dispatchErr error,
	logger *zap.Logger,
) {
	method := submission.DeliveryMethod.String()
	transient := deliverer.IsTransient(dispatchErr)

	if transient && !entry.Exhausted() {
		delay := entry.NextDelay(s.cfg.BaseRetryDelay, s.cfg.MaxRetryDelay)
		nextAttempt := s.now().UTC().Add(delay)

		if err := s.submissions.RescheduleRetry(ctx, submission.ID, dispatchErr.Error(), nextAttempt); err != nil {
			logger.Error("failed to schedule retry", zap.Error(err))
			return
		}
		if s.metrics != nil {
			s.metrics.IncRetryScheduled(method)
		}
		logger.Warn("delivery failed, retry scheduled",
			zap.Duration("delay", delay),
			zap.Int("attempts", entry.Attempts+1),
			zap.Error(dispatchErr),
		)
		return
	}

	if err := s.submissions.FailSubmission(ctx, submission.ID, dispatchErr.Error()); err != nil {
		logger.Error("failed to record terminal failure", zap.Error(err))
		return
	}

	reason := "permanent_error"
	if transient {
		reason = "retry_exhausted"
	}
	if s.metrics != nil {
		s.metrics.IncDispatchFailed(method, reason)
	}
	logger.Error("submission failed terminally",
		zap.String("reason", reason),
		zap.Error(dispatchErr),
	)

	if s.bridge != nil {
		updated := *submission
		updated.Status = domain.StatusFailed
		msg := dispatchErr.Error()
		updated.ErrorMessage = &msg
		s.bridge.StatusChanged(ctx, updated)
	}
}

func (s *QueueScheduler) release(ctx context.Context, submissionID string, logger *zap.Logger) {
	if err := s.queue.Release(ctx, submissionID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Error("failed to release queue claim", zap.Error(err))
	}
}
