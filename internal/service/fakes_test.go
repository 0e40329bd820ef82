package service

import (
	"context"
	"time"

	"github.com/letterdesk/submission-engine/internal/deliverer"
	"github.com/letterdesk/submission-engine/internal/domain"
	"github.com/letterdesk/submission-engine/internal/observability"
	"github.com/letterdesk/submission-engine/internal/repository"
)

type fakeSubmissionRepo struct {
	createBatchWithQueueFn   func(ctx context.Context, submissions []*domain.Submission, entries []*domain.QueueEntry) error
	getByIDFn                func(ctx context.Context, id string) (*domain.Submission, error)
	getByExternalReferenceFn func(ctx context.Context, ref string) (*domain.Submission, error)
	listFn                   func(ctx context.Context, params repository.ListParams) ([]domain.Submission, int64, error)
	completeDispatchFn       func(ctx context.Context, id string, externalRef string, submittedAt time.Time) error
	rescheduleRetryFn        func(ctx context.Context, id string, errMsg string, scheduledAt time.Time) error
	failSubmissionFn         func(ctx context.Context, id string, errMsg string) error
	markConfirmedFn          func(ctx context.Context, id string, confirmedAt time.Time) error
	forceConfirmFn           func(ctx context.Context, id string, confirmedAt time.Time) error
	resetForRetryFn          func(ctx context.Context, id string, scheduledAt time.Time) (*domain.Submission, error)
	requeueStaleFn           func(ctx context.Context, id string, scheduledAt time.Time) error
	setPriorityFn            func(ctx context.Context, id string, priority int) error
	listFailedFn             func(ctx context.Context, limit int) ([]domain.Submission, error)
	listStaleSubmittedFn     func(ctx context.Context, submittedBefore time.Time, limit int) ([]domain.Submission, error)
	countOutcomesSinceFn     func(ctx context.Context, since time.Time) (int64, int64, error)
}

func (f *fakeSubmissionRepo) CreateBatchWithQueue(ctx context.Context, submissions []*domain.Submission, entries []*domain.QueueEntry) error {
	if f.createBatchWithQueueFn != nil {
		return f.createBatchWithQueueFn(ctx, submissions, entries)
	}
	return nil
}

func (f *fakeSubmissionRepo) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSubmissionRepo) GetByExternalReference(ctx context.Context, ref string) (*domain.Submission, error) {
	if f.getByExternalReferenceFn != nil {
		return f.getByExternalReferenceFn(ctx, ref)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSubmissionRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Submission, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeSubmissionRepo) CompleteDispatch(ctx context.Context, id string, externalRef string, submittedAt time.Time) error {
	if f.completeDispatchFn != nil {
		return f.completeDispatchFn(ctx, id, externalRef, submittedAt)
	}
	return nil
}

func (f *fakeSubmissionRepo) RescheduleRetry(ctx context.Context, id string, errMsg string, scheduledAt time.Time) error {
	if f.rescheduleRetryFn != nil {
		return f.rescheduleRetryFn(ctx, id, errMsg, scheduledAt)
	}
	return nil
}

func (f *fakeSubmissionRepo) FailSubmission(ctx context.Context, id string, errMsg string) error {
	if f.failSubmissionFn != nil {
		return f.failSubmissionFn(ctx, id, errMsg)
	}
	return nil
}

func (f *fakeSubmissionRepo) MarkConfirmed(ctx context.Context, id string, confirmedAt time.Time) error {
	if f.markConfirmedFn != nil {
		return f.markConfirmedFn(ctx, id, confirmedAt)
	}
	return nil
}

func (f *fakeSubmissionRepo) ForceConfirm(ctx context.Context, id string, confirmedAt time.Time) error {
	if f.forceConfirmFn != nil {
		return f.forceConfirmFn(ctx, id, confirmedAt)
	}
	return nil
}

func (f *fakeSubmissionRepo) ResetForRetry(ctx context.Context, id string, scheduledAt time.Time) (*domain.Submission, error) {
	if f.resetForRetryFn != nil {
		return f.resetForRetryFn(ctx, id, scheduledAt)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSubmissionRepo) RequeueStale(ctx context.Context, id string, scheduledAt time.Time) error {
	if f.requeueStaleFn != nil {
		return f.requeueStaleFn(ctx, id, scheduledAt)
	}
	return nil
}

func (f *fakeSubmissionRepo) SetPriority(ctx context.Context, id string, priority int) error {
	if f.setPriorityFn != nil {
		return f.setPriorityFn(ctx, id, priority)
	}
	return nil
}

func (f *fakeSubmissionRepo) ListFailed(ctx context.Context, limit int) ([]domain.Submission, error) {
	if f.listFailedFn != nil {
		return f.listFailedFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeSubmissionRepo) ListStaleSubmitted(ctx context.Context, submittedBefore time.Time, limit int) ([]domain.Submission, error) {
	if f.listStaleSubmittedFn != nil {
		return f.listStaleSubmittedFn(ctx, submittedBefore, limit)
	}
	return nil, nil
}

func (f *fakeSubmissionRepo) CountOutcomesSince(ctx context.Context, since time.Time) (int64, int64, error) {
	if f.countOutcomesSinceFn != nil {
		return f.countOutcomesSinceFn(ctx, since)
	}
	return 0, 0, nil
}

type fakeQueueRepo struct {
	enqueueFn           func(ctx context.Context, entry *domain.QueueEntry) error
	dequeueReadyFn      func(ctx context.Context, limit int, now time.Time) ([]domain.QueueEntry, error)
	releaseFn           func(ctx context.Context, submissionID string) error
	deleteFn            func(ctx context.Context, submissionID string) error
	getBySubmissionIDFn func(ctx context.Context, submissionID string) (*domain.QueueEntry, error)
	listFn              func(ctx context.Context, page, pageSize int) ([]domain.QueueEntry, int64, error)
	listStalledFn       func(ctx context.Context, claimedBefore, readyBefore time.Time, limit int) ([]domain.QueueEntry, error)
}

func (f *fakeQueueRepo) Enqueue(ctx context.Context, entry *domain.QueueEntry) error {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, entry)
	}
	return nil
}

func (f *fakeQueueRepo) DequeueReady(ctx context.Context, limit int, now time.Time) ([]domain.QueueEntry, error) {
	if f.dequeueReadyFn != nil {
		return f.dequeueReadyFn(ctx, limit, now)
	}
	return nil, nil
}

func (f *fakeQueueRepo) Release(ctx context.Context, submissionID string) error {
	if f.releaseFn != nil {
		return f.releaseFn(ctx, submissionID)
	}
	return nil
}

func (f *fakeQueueRepo) Delete(ctx context.Context, submissionID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, submissionID)
	}
	return nil
}

func (f *fakeQueueRepo) GetBySubmissionID(ctx context.Context, submissionID string) (*domain.QueueEntry, error) {
	if f.getBySubmissionIDFn != nil {
		return f.getBySubmissionIDFn(ctx, submissionID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeQueueRepo) List(ctx context.Context, page, pageSize int) ([]domain.QueueEntry, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, page, pageSize)
	}
	return nil, 0, nil
}

func (f *fakeQueueRepo) ListStalled(ctx context.Context, claimedBefore, readyBefore time.Time, limit int) ([]domain.QueueEntry, error) {
	if f.listStalledFn != nil {
		return f.listStalledFn(ctx, claimedBefore, readyBefore, limit)
	}
	return nil, nil
}

type fakeDispatcher struct {
	dispatchFn func(ctx context.Context, submission domain.Submission) (*deliverer.Receipt, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, submission domain.Submission) (*deliverer.Receipt, error) {
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, submission)
	}
	return &deliverer.Receipt{}, nil
}

type fakeLimiter struct {
	allowFn func(ctx context.Context, method string) (bool, error)
	waitFn  func(ctx context.Context, method string) error
}

func (f *fakeLimiter) Allow(ctx context.Context, method string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, method)
	}
	return true, nil
}

func (f *fakeLimiter) Wait(ctx context.Context, method string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, method)
	}
	return nil
}

type fakeBridge struct {
	statusChangedFn func(ctx context.Context, submission domain.Submission)
}

// A nil *fakeBridge still satisfies StatusNotifier as a typed-nil interface,
// so the receiver must tolerate it like notify.Bridge does.
func (f *fakeBridge) StatusChanged(ctx context.Context, submission domain.Submission) {
	if f == nil || f.statusChangedFn == nil {
		return
	}
	f.statusChangedFn(ctx, submission)
}

type fakeSink struct {
	recordEventFn func(ctx context.Context, event observability.Event)
}

func (f *fakeSink) RecordEvent(ctx context.Context, event observability.Event) {
	if f == nil || f.recordEventFn == nil {
		return
	}
	f.recordEventFn(ctx, event)
}
