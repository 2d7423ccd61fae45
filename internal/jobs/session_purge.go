package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"schoolhub/internal/config"
	"schoolhub/internal/metrics"
)

// SessionPurger deletes refresh sessions that expired or were revoked before cutoff.
type SessionPurger interface {
	PurgeRefreshSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

func StartSessionPurgeJob(ctx context.Context, cfg config.Config, purger SessionPurger, logger logrus.FieldLogger) {
	if !cfg.SessionPurgeEnabled {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if purger == nil {
		logger.Warn("session purge job disabled: store not configured")
		return
	}
	interval := cfg.SessionPurgeInterval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.SessionPurgeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purgeOnce(ctx, purger, timeout, time.Now().UTC(), logger)
			}
		}
	}()
}

func purgeOnce(ctx context.Context, purger SessionPurger, timeout time.Duration, now time.Time, logger logrus.FieldLogger) int64 {
	tickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	purged, err := purger.PurgeRefreshSessions(tickCtx, now)
	if err != nil {
		logger.WithError(err).Warn("session purge job error")
		return 0
	}
	if purged > 0 {
		metrics.PurgedSessions.Add(float64(purged))
		logger.WithField("count", purged).Info("session purge job removed refresh sessions")
	}
	return purged
}
