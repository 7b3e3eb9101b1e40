// Package worker provides background workers for the leadflow service.
// replay_worker.go drives scheduled replay of dead-lettered events and keeps
// the Redis archive in sync with the in-memory queue.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/leadflow/internal/dlq"
	"github.com/jonesrussell/leadflow/internal/domain"
	"github.com/jonesrussell/leadflow/internal/logger"
	"github.com/jonesrussell/leadflow/internal/telemetry"
)

const (
	defaultReplaySchedule = "*/5 * * * *"
	defaultFlushInterval  = time.Minute
	defaultReplayTimeout  = 30 * time.Second
)

// Replayer re-executes one dead-lettered event
type Replayer interface {
	Replay(ctx context.Context, event domain.DeadLetterEvent) error
}

// ReplayWorker periodically sweeps retryable dead-letter events back through
// the pipeline and flushes the queue to the Redis archive so events survive
// a restart.
type ReplayWorker struct {
	deadQueue *dlq.Queue
	archive   *dlq.Archive
	replayer  Replayer
	telemetry *telemetry.Provider
	logger    logger.Logger

	schedule      string
	flushInterval time.Duration
	replayTimeout time.Duration

	cron     *cron.Cron
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// ReplayWorkerConfig holds configuration options
type ReplayWorkerConfig struct {
	ReplaySchedule string
	FlushInterval  time.Duration
	ReplayTimeout  time.Duration
}

// DefaultReplayWorkerConfig returns sensible defaults
func DefaultReplayWorkerConfig() ReplayWorkerConfig {
	return ReplayWorkerConfig{
		ReplaySchedule: defaultReplaySchedule,
		FlushInterval:  defaultFlushInterval,
		ReplayTimeout:  defaultReplayTimeout,
	}
}

// NewReplayWorker creates a new replay worker. The archive may be nil, in
// which case events live only in memory.
func NewReplayWorker(
	deadQueue *dlq.Queue,
	archive *dlq.Archive,
	replayer Replayer,
	cfg ReplayWorkerConfig,
	tel *telemetry.Provider,
	log logger.Logger,
) *ReplayWorker {
	if cfg.ReplaySchedule == "" {
		cfg.ReplaySchedule = defaultReplaySchedule
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.ReplayTimeout <= 0 {
		cfg.ReplayTimeout = defaultReplayTimeout
	}

	return &ReplayWorker{
		deadQueue:     deadQueue,
		archive:       archive,
		replayer:      replayer,
		telemetry:     tel,
		logger:        log,
		schedule:      cfg.ReplaySchedule,
		flushInterval: cfg.FlushInterval,
		replayTimeout: cfg.ReplayTimeout,
		stopChan:      make(chan struct{}),
	}
}

// Start restores archived events and begins the replay schedule and flush loop
func (w *ReplayWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.stopChan = make(chan struct{})
	w.mu.Unlock()

	w.restore(ctx)

	w.cron = cron.New()
	if _, err := w.cron.AddFunc(w.schedule, func() { w.sweepOnce(context.Background()) }); err != nil {
		return err
	}
	w.cron.Start()

	w.wg.Add(1)
	go w.runFlush(ctx)

	w.logger.Info("dead-letter replay worker started",
		logger.String("schedule", w.schedule),
		logger.Duration("flush_interval", w.flushInterval))
	return nil
}

// Stop gracefully stops the worker and flushes the queue one last time.
// Safe to call more than once.
func (w *ReplayWorker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()

	if w.cron != nil {
		cronCtx := w.cron.Stop()
		<-cronCtx.Done()
	}
	close(w.stopChan)
	w.wg.Wait()

	w.flush(context.Background())
	w.logger.Info("dead-letter replay worker stopped")
}

// IsRunning returns whether the worker is currently running
func (w *ReplayWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// restore imports archived events left over from a previous process
func (w *ReplayWorker) restore(ctx context.Context) {
	if w.archive == nil {
		return
	}

	events, err := w.archive.Load(ctx)
	if err != nil {
		w.logger.Error("failed to load dead-letter archive", logger.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	inserted := w.deadQueue.Import(events)
	w.logger.Info("restored dead-letter events from archive",
		logger.Int("archived", len(events)),
		logger.Int("imported", inserted))
}

// sweepOnce replays every event that still has attempts left. Successful
// replays are removed from the queue and the archive; failures keep their
// incremented retry count and wait for the next sweep.
func (w *ReplayWorker) sweepOnce(ctx context.Context) {
	events := w.deadQueue.GetRetryableEvents()
	if len(events) == 0 {
		return
	}

	w.logger.Info("replaying dead-letter events", logger.Int("count", len(events)))

	var replayed int
	for i := range events {
		if w.replayOne(ctx, &events[i]) {
			replayed++
		}
	}

	w.telemetry.Metrics.DLQDepth.Set(float64(w.deadQueue.GetStats().Total))
	if replayed > 0 {
		w.logger.Info("dead-letter replay sweep finished",
			logger.Int("replayed", replayed),
			logger.Int("remaining", w.deadQueue.GetStats().Total))
	}
}

func (w *ReplayWorker) replayOne(ctx context.Context, event *domain.DeadLetterEvent) bool {
	if !w.deadQueue.MarkRetrying(event.ID) {
		// Removed concurrently, nothing to do
		return false
	}

	replayCtx, cancel := context.WithTimeout(ctx, w.replayTimeout)
	defer cancel()

	if err := w.replayer.Replay(replayCtx, *event); err != nil {
		w.logger.Warn("dead-letter replay failed",
			logger.String("dead_letter_id", event.ID),
			logger.String("event_type", string(event.Type)),
			logger.Int("retry_count", event.Metadata.RetryCount+1),
			logger.Error(err))
		return false
	}

	w.deadQueue.Remove(event.ID)
	if w.archive != nil {
		if err := w.archive.Delete(ctx, event.ID); err != nil {
			w.logger.Warn("failed to delete replayed event from archive",
				logger.String("dead_letter_id", event.ID),
				logger.Error(err))
		}
	}

	w.telemetry.Metrics.DLQReplayed.Inc()
	w.logger.Info("dead-letter event replayed",
		logger.String("dead_letter_id", event.ID),
		logger.String("event_type", string(event.Type)))
	return true
}

func (w *ReplayWorker) runFlush(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *ReplayWorker) flush(ctx context.Context) {
	if w.archive == nil {
		return
	}

	events := w.deadQueue.Export()
	if len(events) == 0 {
		return
	}

	if err := w.archive.Flush(ctx, events); err != nil {
		w.logger.Error("failed to flush dead-letter archive", logger.Error(err))
		return
	}
	w.logger.Debug("dead-letter archive flushed", logger.Int("events", len(events)))
}

// GetStats returns current worker statistics
func (w *ReplayWorker) GetStats() map[string]any {
	stats := w.deadQueue.GetStats()
	return map[string]any{
		"total":           stats.Total,
		"by_type":         stats.ByType,
		"replay_schedule": w.schedule,
		"flush_interval":  w.flushInterval.String(),
		"running":         w.IsRunning(),
	}
}
