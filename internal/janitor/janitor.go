// Package janitor implements background finalization of expired items and
// orphan blob cleanup. It runs apart from the request path: access never
// finalizes an expired item, the janitor does.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/linkvault/internal/store"
)

// Store is the subset of store.Store the janitor drives each cycle.
type Store interface {
	// Sweep finalizes items whose expiry is before now.
	Sweep(ctx context.Context, now time.Time) (store.SweepResult, error)
	// Reconcile removes blobs no live item references and returns how many.
	Reconcile(ctx context.Context) (int, error)
}

// Recorder receives per-cycle figures for export. Optional.
type Recorder interface {
	SweepCompleted(processed, failures int, took time.Duration)
	OrphansRemoved(n int)
}

// Clock supplies the sweep instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins
	Clock    Clock         // optional, defaults to the system clock
	Recorder Recorder      // optional
	Logger   *slog.Logger  // optional logger (defaults to slog.Default())
}

// Metrics accumulates counters in memory.
type Metrics struct {
	mu                  sync.Mutex
	Cycles              uint64
	Processed           uint64
	Failures            uint64
	Orphans             uint64
	CycleLastDurationMS int64
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64
	Processed           uint64
	Failures            uint64
	Orphans             uint64
	CycleLastDurationMS int64
}

func (m *Metrics) add(processed, failures, orphans int) {
	m.mu.Lock()
	m.Processed += uint64(max(processed, 0))
	m.Failures += uint64(max(failures, 0))
	m.Orphans += uint64(max(orphans, 0))
	m.mu.Unlock()
}

func (m *Metrics) recordCycle(d time.Duration) {
	m.mu.Lock()
	m.Cycles++
	m.CycleLastDurationMS = d.Milliseconds()
	m.mu.Unlock()
}

// Janitor encapsulates the background cleanup loop.
type Janitor struct {
	store   Store
	cfg     Config
	metrics *Metrics

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor.
func New(s Store, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	return &Janitor{
		store:   s,
		cfg:     cfg,
		metrics: &Metrics{},
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	} // already started
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion. Stop on a janitor
// that was never started returns immediately.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	if j.ticker == nil {
		return
	}
	<-j.doneCh
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	return MetricsView{
		Cycles:              j.metrics.Cycles,
		Processed:           j.metrics.Processed,
		Failures:            j.metrics.Failures,
		Orphans:             j.metrics.Orphans,
		CycleLastDurationMS: j.metrics.CycleLastDurationMS,
	}
}

// RunOnce performs a single cycle synchronously. It returns the sweep error,
// if any, then the reconcile error.
func (j *Janitor) RunOnce(ctx context.Context) (store.SweepResult, error) {
	return j.runCycle(ctx)
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		if j.ticker != nil {
			j.ticker.Stop()
		}
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			_, _ = j.runCycle(ctx)
		}
	}
}

// runCycle performs one sweep followed by one orphan reconcile. A failed
// sweep does not skip the reconcile.
func (j *Janitor) runCycle(ctx context.Context) (store.SweepResult, error) {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")

	res, sweepErr := j.store.Sweep(ctx, j.cfg.Clock.Now())
	if sweepErr != nil && !errors.Is(sweepErr, context.Canceled) {
		log.Error("sweep", "error", sweepErr)
	}
	for _, id := range res.Errors {
		log.Warn("sweep item failed", "id", id)
	}
	orphans, recErr := j.store.Reconcile(ctx)
	if recErr != nil && !errors.Is(recErr, context.Canceled) {
		log.Error("reconcile", "error", recErr)
	}

	took := time.Since(start)
	j.metrics.add(res.Processed, len(res.Errors), orphans)
	j.metrics.recordCycle(took)
	if r := j.cfg.Recorder; r != nil {
		r.SweepCompleted(res.Processed, len(res.Errors), took)
		r.OrphansRemoved(orphans)
	}
	log.Info("cycle complete", "processed", res.Processed, "failures", len(res.Errors), "orphans", orphans, "ms", took.Milliseconds())
	return res, errors.Join(sweepErr, recErr)
}
