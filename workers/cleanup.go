package workers

import (
	"context"
	"time"

	"github.com/notblessy/cryptodash/logger"
	"github.com/notblessy/cryptodash/metrics"
	"github.com/notblessy/cryptodash/store"
)

// RetentionWorker prunes price rows that fell out of the rolling windows:
// hourly rows older than fineDays and daily rows older than coarseDays.
type RetentionWorker struct {
	prices     store.PriceStore
	fineDays   int
	coarseDays int
	log        *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewRetentionWorker(prices store.PriceStore, fineDays, coarseDays int, log *logger.Logger, m *metrics.Metrics) *RetentionWorker {
	if log == nil {
		log = logger.NewSilent()
	}
	return &RetentionWorker{
		prices:     prices,
		fineDays:   fineDays,
		coarseDays: coarseDays,
		log:        log,
		metrics:    m,
		now:        time.Now,
	}
}

// Start runs a cleanup at once and then every interval until ctx is done.
// A non-positive interval disables the periodic cleanup.
func (w *RetentionWorker) Start(ctx context.Context, interval time.Duration) {
	// Run immediately on start
	w.Cleanup(ctx)

	if interval <= 0 {
		w.log.Warn().Dur("interval", interval).Msg("Retention interval not positive, periodic cleanup disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Retention worker shutting down...")
			return
		case <-ticker.C:
			w.Cleanup(ctx)
		}
	}
}

// Cleanup deletes expired rows once. Errors are logged.
func (w *RetentionWorker) Cleanup(ctx context.Context) {
	now := w.now().UTC()

	// Each window keeps one extra day.
	fineCutoff := now.AddDate(0, 0, -(w.fineDays + 1))
	hourly, err := w.prices.DeleteHourlyBefore(ctx, fineCutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("Error pruning hourly prices")
	} else {
		w.metrics.Pruned("price_hourly", hourly)
	}

	coarseCutoff := now.AddDate(0, 0, -(w.coarseDays + 1))
	daily, err := w.prices.DeleteDailyBefore(ctx, coarseCutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("Error pruning daily prices")
	} else {
		w.metrics.Pruned("price_daily", daily)
	}

	w.log.Info().
		Int64("hourly_deleted", hourly).
		Int64("daily_deleted", daily).
		Time("hourly_cutoff", fineCutoff).
		Time("daily_cutoff", coarseCutoff).
		Msg("Retention cleanup completed")
}
