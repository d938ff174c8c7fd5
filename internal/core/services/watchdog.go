package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"social-inbox/internal/core/ports"
)

const (
	// DefaultWatchdogInterval is how often disk usage is checked
	DefaultWatchdogInterval = 10 * time.Minute

	// DefaultDiskThresholdPct is the disk usage that triggers a purge
	DefaultDiskThresholdPct = 70.0

	purgeBatchSize = 1000
)

// WatchdogConfig controls when webhook audit rows are purged
type WatchdogConfig struct {
	Interval         time.Duration
	DiskPath         string
	DiskThresholdPct float64
	Retention        time.Duration
}

// Watchdog purges old webhook audit rows once disk usage crosses a threshold.
// Conversations and messages are never touched.
type Watchdog struct {
	purger ports.WebhookLogPurger
	cfg    WatchdogConfig
	usage  func(path string) (float64, error)
}

// NewWatchdog creates a watchdog using gopsutil for disk usage
func NewWatchdog(purger ports.WebhookLogPurger, cfg WatchdogConfig) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchdogInterval
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.DiskThresholdPct <= 0 {
		cfg.DiskThresholdPct = DefaultDiskThresholdPct
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &Watchdog{
		purger: purger,
		cfg:    cfg,
		usage:  diskUsedPercent,
	}
}

// Run checks on every interval until ctx is done
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	slog.Info("Watchdog started",
		"interval", w.cfg.Interval,
		"threshold_pct", w.cfg.DiskThresholdPct,
		"retention", w.cfg.Retention,
	)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Watchdog stopped")
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check runs one resource check and returns the number of purged rows
func (w *Watchdog) Check(ctx context.Context) int64 {
	used, err := w.usage(w.cfg.DiskPath)
	if err != nil {
		slog.Error("Watchdog disk check failed", "path", w.cfg.DiskPath, "error", err)
		return 0
	}

	if used < w.cfg.DiskThresholdPct {
		slog.Debug("Disk usage OK, no purge needed", "used_pct", used)
		return 0
	}

	slog.Warn("Disk usage above threshold, purging webhook logs",
		"used_pct", used,
		"threshold_pct", w.cfg.DiskThresholdPct,
	)
	purged, err := w.purger.PurgeWebhookLogs(ctx, w.cfg.Retention, purgeBatchSize)
	if err != nil {
		slog.Error("Webhook log purge failed", "error", err)
		return 0
	}

	slog.Info("Purged old webhook logs", "rows", purged)
	return purged
}

func diskUsedPercent(path string) (float64, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return stat.UsedPercent, nil
}
