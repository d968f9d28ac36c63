package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"wisdomchat/pkg/config"
	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/store"
)

// StartRedrive starts the cron-scheduled scan that re-enqueues stale
// pending effects. Effects become stale when their in-memory nudge was
// dropped or the process crashed between commit and completion.
// Returns a cancel func.
func StartRedrive(ctx context.Context, cfg config.RedriveConfig, q *Queue) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("outbox_redrive_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("outbox_redrive_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid redrive cron expression: %s", cfg.Cron)
	}

	minAge := cfg.MinAge.Duration()
	if minAge <= 0 {
		minAge = 30 * time.Second
	}

	logger.Info("outbox_redrive_enabled", "cron", cronExpr, "min_age", minAge)
	ctx2, cancel := context.WithCancel(ctx)
	go runRedriveScheduler(ctx2, cronExpr, minAge, q)
	return cancel, nil
}

// runRedriveScheduler computes the next tick with gronx and sleeps until
// that time, mirroring full cron syntax.
func runRedriveScheduler(ctx context.Context, cronExpr string, minAge time.Duration, q *Queue) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox_redrive_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("outbox_redrive_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if n, err := RedriveOnce(minAge, q); err != nil {
				logger.Error("outbox_redrive_run_error", "error", err)
			} else if n > 0 {
				logger.Info("outbox_redrive_requeued", "count", n)
			}
		case <-ctx.Done():
			logger.Info("outbox_redrive_stopping")
			return
		}
	}
}

// RedriveOnce scans the durable outbox and re-enqueues every pending
// effect older than minAge. Returns the number re-enqueued.
func RedriveOnce(minAge time.Duration, q *Queue) (int, error) {
	effects, err := store.PendingEffects()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-minAge).UnixNano()
	n := 0
	for _, e := range effects {
		if e.TS > cutoff {
			continue
		}
		if err := q.TryEnqueue(e); err != nil {
			// queue full; the next scan retries
			break
		}
		n++
	}
	return n, nil
}
