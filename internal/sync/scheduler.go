package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Scheduler runs the orchestrator on a fixed interval. Failures are logged
// and swallowed; the loop itself never stops except on context cancel.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(logger *slog.Logger, orch *Orchestrator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Scheduler{orch: orch, interval: interval, logger: logger}
}

// Start blocks until ctx is cancelled. The first run fires immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler_stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled_sync_panic", "panic", fmt.Sprint(r))
		}
	}()

	s.logger.Info("scheduled_sync_started")
	start := time.Now()

	result, err := s.orch.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled_sync_failed", "error", err, "elapsed", time.Since(start).String())
		return
	}

	s.logger.Info("scheduled_sync_success",
		"synced_pages", result.SyncedPages,
		"synced_events", result.SyncedEvents,
		"expiring_tokens", len(result.ExpiringTokens),
		"elapsed", time.Since(start).String(),
	)
}
