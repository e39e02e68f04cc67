// Package reconcile runs the scheduled unread-counter repair job.
// Counters are maintained incrementally on the hot path; this job is
// the safety net that recomputes them from message and receipt state.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"converse/pkg/config"
	"converse/pkg/engine"
	"converse/pkg/logger"
)

// Start launches the scheduler when enabled. Returns a cancel func.
func Start(ctx context.Context, eng *engine.Engine, cfg config.ReconcileConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("reconcile_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "*/15 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("reconcile_invalid_cron", zap.String("cron", cfg.Cron))
		return nil, fmt.Errorf("invalid reconcile cron expression: %s", cfg.Cron)
	}

	logger.Info("reconcile_enabled", zap.String("cron", cronExpr))
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, eng, cronExpr)
	return cancel, nil
}

// runScheduler computes the next tick for the cron expression with
// gronx and sleeps until then, repeating until cancellation.
func runScheduler(ctx context.Context, eng *engine.Engine, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("reconcile_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("reconcile_nexttick_failed", zap.String("cron", cronExpr), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			runOnce(eng)
		case <-ctx.Done():
			logger.Info("reconcile_scheduler_stopping")
			return
		}
	}
}

func runOnce(eng *engine.Engine) {
	start := time.Now()
	repairs, err := eng.ReconcileUnread()
	if err != nil {
		logger.Error("reconcile_run_error", zap.Error(err))
		return
	}
	logger.Info("reconcile_run_complete",
		zap.Int("repairs", repairs),
		zap.Duration("took", time.Since(start)),
	)
}
