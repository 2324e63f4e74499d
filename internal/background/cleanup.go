package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/pellmont/signet/internal/lockout"
	"github.com/pellmont/signet/internal/onetime"
)

// CleanupManager periodically removes expired and consumed artifacts and
// drops stale lockout entries. Expiry is enforced on every read; this is
// storage hygiene only.
type CleanupManager struct {
	artifacts onetime.Store
	tracker   *lockout.Tracker
	logger    *slog.Logger
	interval  time.Duration
	stopCh    chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	artifacts onetime.Store,
	tracker *lockout.Tracker,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		artifacts: artifacts,
		tracker:   tracker,
		logger:    logger,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps the artifact store and the lockout tracker
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := cm.artifacts.DeleteExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup expired artifacts", slog.Any("error", err))
	} else if deleted > 0 {
		cm.logger.Info("expired artifact cleanup completed", slog.Int("rows_deleted", deleted))
	}

	cm.tracker.Sweep()
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
