package background

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const cleanupTimeout = 5 * time.Minute

// DeviceCleaner removes stale device fingerprints
type DeviceCleaner interface {
	Cleanup(ctx context.Context, daysOld int) (int, error)
}

// CleanupManager runs device cleanup on a cron schedule
type CleanupManager struct {
	cron    *cron.Cron
	devices DeviceCleaner
	days    int
	logger  *slog.Logger
}

// NewCleanupManager schedules cleanup of devices untouched for days. schedule is a standard
// five field cron expression evaluated in local time.
func NewCleanupManager(devices DeviceCleaner, schedule string, days int, logger *slog.Logger) (*CleanupManager, error) {
	cm := &CleanupManager{
		cron:    cron.New(cron.WithLocation(time.Local)),
		devices: devices,
		days:    days,
		logger:  logger,
	}

	if _, err := cm.cron.AddFunc(schedule, func() { cm.RunNow(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return cm, nil
}

// Start begins the schedule and returns immediately
func (cm *CleanupManager) Start() {
	cm.cron.Start()
	cm.logger.Info("device cleanup scheduled", slog.Int("days", cm.days))
}

// RunNow performs one cleanup pass
func (cm *CleanupManager) RunNow(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()

	start := time.Now()
	removed, err := cm.devices.Cleanup(ctx, cm.days)
	if err != nil {
		cm.logger.ErrorContext(ctx, "device cleanup failed", slog.Any("error", err))
		return 0
	}

	cm.logger.InfoContext(ctx, "device cleanup completed",
		slog.Int("removed", removed),
		slog.Duration("duration", time.Since(start)),
	)
	return removed
}

// Stop halts the schedule and waits for a running pass to finish or ctx to expire
func (cm *CleanupManager) Stop(ctx context.Context) {
	select {
	case <-cm.cron.Stop().Done():
		cm.logger.Info("cleanup manager stopped")
	case <-ctx.Done():
		cm.logger.Warn("cleanup manager stop timed out")
	}
}
