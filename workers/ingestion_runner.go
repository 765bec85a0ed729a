package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notblessy/cryptodash/cache"
	"github.com/notblessy/cryptodash/logger"
	"github.com/notblessy/cryptodash/models"
	"github.com/notblessy/cryptodash/services"
)

// ErrAlreadyRunning is returned by RunNow while another run is in flight.
var ErrAlreadyRunning = errors.New("ingestion already running")

// Pipeline runs one ingestion. *services.IngestionPipeline satisfies it.
type Pipeline interface {
	Run(ctx context.Context, opts services.RunOptions) (*models.RunReport, error)
}

// IngestionRunner runs the pipeline in the background, at most one run at a
// time. Runs are detached from the triggering request and stop only when
// the runner's base context is cancelled.
type IngestionRunner struct {
	pipeline Pipeline
	cache    cache.Cache
	mode     models.WriteMode
	log      *logger.Logger

	base    context.Context
	running atomic.Bool
	wg      sync.WaitGroup

	mu   sync.Mutex
	last *models.RunReport
}

func NewIngestionRunner(base context.Context, pipeline Pipeline, c cache.Cache, mode models.WriteMode, log *logger.Logger) *IngestionRunner {
	if log == nil {
		log = logger.NewSilent()
	}
	return &IngestionRunner{
		pipeline: pipeline,
		cache:    c,
		mode:     mode,
		log:      log,
		base:     base,
	}
}

// Trigger starts a run in a new goroutine. It returns false without starting
// anything if a run is already in flight.
func (r *IngestionRunner) Trigger(cleanFirst bool) bool {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Warn().Msg("Ingestion already running, trigger ignored")
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		r.runOnce(cleanFirst)
	}()
	return true
}

// RunNow runs synchronously in the caller's goroutine.
func (r *IngestionRunner) RunNow(ctx context.Context, cleanFirst bool) (*models.RunReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)
	return r.execute(ctx, cleanFirst)
}

// Start triggers a run every interval until ctx is done.
func (r *IngestionRunner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Ingestion scheduler shutting down...")
			return
		case <-ticker.C:
			r.Trigger(false)
		}
	}
}

// Running reports whether a run is in flight.
func (r *IngestionRunner) Running() bool {
	return r.running.Load()
}

// LastReport returns the report of the most recent finished run, or nil.
func (r *IngestionRunner) LastReport() *models.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Wait blocks until background runs have returned.
func (r *IngestionRunner) Wait() {
	r.wg.Wait()
}

func (r *IngestionRunner) runOnce(cleanFirst bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Msg("Ingestion run panicked")
		}
	}()
	_, _ = r.execute(r.base, cleanFirst)
}

func (r *IngestionRunner) execute(ctx context.Context, cleanFirst bool) (*models.RunReport, error) {
	r.log.Info().Bool("clean_first", cleanFirst).Str("mode", string(r.mode)).Msg("Starting ingestion run")

	report, err := r.pipeline.Run(ctx, services.RunOptions{CleanFirst: cleanFirst, Mode: r.mode})

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	if err != nil {
		return report, err
	}

	if r.cache != nil {
		if cerr := r.cache.DeletePrefix(ctx, services.PriceCachePrefix); cerr != nil {
			r.log.Warn().Err(cerr).Msg("Failed to invalidate price cache")
		}
	}
	return report, nil
}
