// Package worker implements the crawl task execution loop.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crashlens/leadcrawler/internal/leads"
	"github.com/crashlens/leadcrawler/internal/metrics"
)

// SessionRunner executes one crawl request end to end.
type SessionRunner interface {
	Run(ctx context.Context, req leads.CrawlRequest) (leads.CrawlStats, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic is the Pub/Sub topic terminal task events go to; empty
	// disables publishing.
	Topic string
	// SessionBudget bounds the wall-clock time of one task including
	// session retries.
	SessionBudget time.Duration
	// MaxSessionRetries is the total number of session attempts per task.
	MaxSessionRetries int
	// RetryBaseDelay seeds the exponential delay between session
	// attempts (base, 2*base, 4*base, ...).
	RetryBaseDelay time.Duration
}

// Worker consumes queue items and executes crawl sessions.
type Worker struct {
	queue     leads.Queue
	taskStore leads.TaskStore
	publisher leads.Publisher
	clock     leads.Clock
	runner    SessionRunner
	cfg       Config
	logger    *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Worker.
func New(
	queue leads.Queue,
	taskStore leads.TaskStore,
	publisher leads.Publisher,
	clock leads.Clock,
	runner SessionRunner,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxSessionRetries <= 0 {
		cfg.MaxSessionRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		taskStore: taskStore,
		publisher: publisher,
		clock:     clock,
		runner:    runner,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.TaskID))
		w.processTask(ctx, item)
	}
}

func (w *Worker) processTask(ctx context.Context, item leads.TaskItem) {
	if err := w.taskStore.UpdateTask(ctx, item.TaskID, leads.TaskStatusRunning, "", leads.CrawlStats{}); err != nil {
		w.logger.Error("update task status failed", zap.String("task_id", item.TaskID), zap.Error(err))
		return
	}

	taskCtx := ctx
	cancel := context.CancelFunc(func() {})
	if w.cfg.SessionBudget > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, w.cfg.SessionBudget)
	}
	defer cancel()

	stats, runErr := w.runSession(taskCtx, item)

	status := leads.TaskStatusSuccess
	errText := ""
	if runErr != nil {
		status = leads.TaskStatusFailure
		errText = runErr.Error()
	}

	if err := w.taskStore.UpdateTask(ctx, item.TaskID, status, errText, stats); err != nil {
		w.logger.Error("final task status update failed", zap.String("task_id", item.TaskID), zap.Error(err))
	}
	metrics.ObserveTask(string(status))
	w.publishResult(ctx, item, status, errText, stats)

	w.logger.Info("task finished",
		zap.String("task_id", item.TaskID),
		zap.String("status", string(status)),
		zap.Int("candidates", stats.Candidates),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
	)
}

// runSession retries the whole session on failure with exponential
// delays, accumulating nothing across attempts: each retry starts over.
func (w *Worker) runSession(ctx context.Context, item leads.TaskItem) (leads.CrawlStats, error) {
	var (
		stats   leads.CrawlStats
		lastErr error
	)
	for attempt := 1; attempt <= w.cfg.MaxSessionRetries; attempt++ {
		var err error
		stats, err = w.runner.Run(ctx, item.Request)
		if err == nil {
			return stats, nil
		}
		lastErr = err
		w.logger.Warn("session attempt failed",
			zap.String("task_id", item.TaskID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return stats, fmt.Errorf("session budget exhausted: %w", lastErr)
		}
		if attempt < w.cfg.MaxSessionRetries {
			delay := w.cfg.RetryBaseDelay << (attempt - 1)
			if err := w.sleep(ctx, delay); err != nil {
				return stats, fmt.Errorf("session budget exhausted: %w", lastErr)
			}
		}
	}
	return stats, lastErr
}

func (w *Worker) publishResult(
	ctx context.Context,
	item leads.TaskItem,
	status leads.TaskStatus,
	errText string,
	stats leads.CrawlStats,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"task_id":     item.TaskID,
		"status":      string(status),
		"query":       item.Request.Query,
		"location":    item.Request.Location,
		"stats":       stats,
		"error":       errText,
		"finished_at": w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Error("publish task event failed", zap.String("task_id", item.TaskID), zap.Error(err))
		return
	}
	w.logger.Info("task event published",
		zap.String("task_id", item.TaskID),
		zap.String("status", string(status)),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
