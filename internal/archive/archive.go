// Package archive purges archived conversations once they have been
// archived longer than the configured period. Runs on a cron schedule;
// purging deletes the conversation meta, its messages, and its pair
// mapping so the participants can start fresh.
package archive

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"convo/pkg/config"
	"convo/pkg/logger"
	"convo/pkg/store"
)

const (
	defaultCron      = "0 3 * * *"
	defaultPeriod    = 30 * 24 * time.Hour
	defaultBatchSize = 100
)

// Start launches the purge scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.ArchiveConfig, st *store.Store) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("archive_purge_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("archive_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid archive cron expression: %s", cfg.Cron)
	}
	period, err := parsePeriod(cfg.Period)
	if err != nil {
		return nil, err
	}

	logger.Info("archive_purge_enabled", "cron", cronExpr, "period", period.String(), "dry_run", cfg.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, st, cronExpr, period)
	return cancel, nil
}

// parsePeriod accepts Go durations plus a day suffix ("30d"). Empty
// means the default period.
func parsePeriod(s string) (time.Duration, error) {
	if s == "" {
		return defaultPeriod, nil
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid archive period: %s", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid archive period: %s", s)
	}
	return d, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, so full cron syntax works without a polling loop.
func runScheduler(ctx context.Context, cfg config.ArchiveConfig, st *store.Store, cronExpr string, period time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("archive_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("archive_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := RunOnce(ctx, cfg, st, period); err != nil {
				logger.Error("archive_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("archive_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single purge sweep. Exposed so an admin trigger or
// a test can force a run without waiting for the schedule.
func RunOnce(ctx context.Context, cfg config.ArchiveConfig, st *store.Store, period time.Duration) error {
	cutoff := time.Now().UTC().Add(-period).UnixNano()
	convs, err := st.ListConversations("")
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	sleep := time.Duration(cfg.BatchSleepMs) * time.Millisecond

	var scanned, purged int
	for _, conv := range convs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		scanned++
		if !conv.IsArchived || conv.ArchivedTS == 0 || conv.ArchivedTS > cutoff {
			continue
		}
		if cfg.DryRun {
			logger.Info("archive_purge_dry_run", "conversation", conv.ID, "archived_ts", conv.ArchivedTS)
			purged++
			continue
		}
		if err := st.DeleteConversation(conv.ID); err != nil {
			logger.Error("archive_purge_failed", "conversation", conv.ID, "error", err)
			continue
		}
		purged++
		if sleep > 0 && purged%batchSize == 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	logger.Info("archive_purge_done", "scanned", scanned, "purged", purged, "dry_run", cfg.DryRun)
	return nil
}
