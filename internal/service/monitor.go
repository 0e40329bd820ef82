package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/letterdesk/submission-engine/internal/observability"
	"github.com/letterdesk/submission-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultMonitorInterval = time.Minute
	monitorScanLimit       = 500
)

// MonitorConfig bundles the anomaly thresholds of the monitoring loop.
type MonitorConfig struct {
	Interval             time.Duration
	ConfirmationWindow   time.Duration
	StallThreshold       time.Duration
	FailureRateThreshold float64
	FailureRateWindow    time.Duration
	FailureRateMinSample int
	// AutoRetryStale requeues submissions stuck in submitted past the
	// confirmation window instead of only alerting.
	AutoRetryStale bool
}

// Monitor periodically scans for stuck submissions, stalled queue entries
// and failure-rate breaches, reporting one aggregated event per anomaly
// class per cycle. It observes and alerts; it only mutates state under the
// explicit AutoRetryStale policy.
type Monitor struct {
	submissions repository.SubmissionRepository
	queue       repository.QueueRepository
	sink        observability.Sink
	logger      *zap.Logger
	metrics     *observability.Metrics
	cfg         MonitorConfig
	now         func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMonitor(
	submissions repository.SubmissionRepository,
	queue repository.QueueRepository,
	sink observability.Sink,
	cfg MonitorConfig,
	logger *zap.Logger,
) (*Monitor, error) {
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultMonitorInterval
	}
	if cfg.ConfirmationWindow <= 0 {
		cfg.ConfirmationWindow = 24 * time.Hour
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = 10 * time.Minute
	}
	if cfg.FailureRateThreshold <= 0 || cfg.FailureRateThreshold > 1 {
		cfg.FailureRateThreshold = 0.5
	}
	if cfg.FailureRateWindow <= 0 {
		cfg.FailureRateWindow = time.Hour
	}
	if cfg.FailureRateMinSample < 1 {
		cfg.FailureRateMinSample = 10
	}

	return &Monitor{
		submissions: submissions,
		queue:       queue,
		sink:        sink,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}, nil
}

func (m *Monitor) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

// Start launches the monitoring loop. Calling Start on a running monitor is
// a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.run(ctx)

	m.logger.Info("monitor started", zap.Duration("interval", m.cfg.Interval))
	return nil
}

// Stop cancels the loop and waits for the current scan, bounded by ctx.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	done := m.done
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		m.logger.Info("monitor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor stop timed out: %w", ctx.Err())
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	m.scan(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

// scan runs all anomaly checks. Any panic from a collaborator is contained
// here so a bad cycle never takes the loop down.
func (m *Monitor) scan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor scan panicked", zap.Any("panic", r))
		}
	}()

	m.checkStaleSubmitted(ctx)
	m.checkStalledQueue(ctx)
	m.checkFailureRate(ctx)
}

func (m *Monitor) checkStaleSubmitted(ctx context.Context) {
	cutoff := m.now().UTC().Add(-m.cfg.ConfirmationWindow)
	stale, err := m.submissions.ListStaleSubmitted(ctx, cutoff, monitorScanLimit)
	if err != nil {
		m.logger.Error("stale submission scan failed", zap.Error(err))
		return
	}

	if m.metrics != nil {
		m.metrics.SetStaleSubmissions(len(stale))
	}
	if len(stale) == 0 {
		return
	}

	ids := make([]string, 0, len(stale))
	for i := range stale {
		ids = append(ids, stale[i].ID)
	}

	m.emit(ctx, observability.Event{
		Kind:    "stale_submitted",
		Message: "submissions unconfirmed past the confirmation window",
		Count:   len(stale),
		Fields: map[string]any{
			"submissionIds": ids,
			"cutoff":        cutoff,
		},
	})

	if !m.cfg.AutoRetryStale {
		return
	}

	requeued := 0
	for i := range stale {
		if err := m.submissions.RequeueStale(ctx, stale[i].ID, m.now().UTC()); err != nil {
			m.logger.Error("failed to requeue stale submission",
				zap.String("submissionId", stale[i].ID),
				zap.Error(err),
			)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		m.logger.Info("stale submissions requeued", zap.Int("count", requeued))
	}
}

func (m *Monitor) checkStalledQueue(ctx context.Context) {
	threshold := m.now().UTC().Add(-m.cfg.StallThreshold)
	stalled, err := m.queue.ListStalled(ctx, threshold, threshold, monitorScanLimit)
	if err != nil {
		m.logger.Error("stalled queue scan failed", zap.Error(err))
		return
	}
	if len(stalled) == 0 {
		return
	}

	ids := make([]string, 0, len(stalled))
	claimed := 0
	for i := range stalled {
		ids = append(ids, stalled[i].SubmissionID)
		if stalled[i].Claimed {
			claimed++
		}
	}

	m.emit(ctx, observability.Event{
		Kind:    "stalled_queue",
		Message: "queue entries show no dispatch progress",
		Count:   len(stalled),
		Fields: map[string]any{
			"submissionIds": ids,
			"claimed":       claimed,
		},
	})
}

func (m *Monitor) checkFailureRate(ctx context.Context) {
	since := m.now().UTC().Add(-m.cfg.FailureRateWindow)
	failed, total, err := m.submissions.CountOutcomesSince(ctx, since)
	if err != nil {
		m.logger.Error("failure rate scan failed", zap.Error(err))
		return
	}
	if total < int64(m.cfg.FailureRateMinSample) {
		return
	}

	rate := float64(failed) / float64(total)
	if rate <= m.cfg.FailureRateThreshold {
		return
	}

	m.emit(ctx, observability.Event{
		Kind:    "failure_rate",
		Message: "failure rate exceeded threshold",
		Count:   int(failed),
		Fields: map[string]any{
			"failed":    failed,
			"total":     total,
			"rate":      rate,
			"threshold": m.cfg.FailureRateThreshold,
			"window":    m.cfg.FailureRateWindow.String(),
		},
	})
}

// emit forwards the event to the sink, containing sink panics.
func (m *Monitor) emit(ctx context.Context, event observability.Event) {
	if m.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("telemetry sink panicked",
				zap.String("kind", event.Kind),
				zap.Any("panic", r),
			)
		}
	}()
	m.sink.RecordEvent(ctx, event)
}
