package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/linkvault/internal/store"
)

// --- Fakes / Mocks ---

type fakeStore struct {
	mu         sync.Mutex
	result     store.SweepResult
	orphans    int
	sweepErr   error
	reconErr   error
	callsSweep int
	callsRecon int
	lastNow    time.Time
}

func (fs *fakeStore) Sweep(_ context.Context, now time.Time) (store.SweepResult, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.callsSweep++
	fs.lastNow = now
	if fs.sweepErr != nil {
		return store.SweepResult{}, fs.sweepErr
	}
	return fs.result, nil
}

func (fs *fakeStore) Reconcile(context.Context) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.callsRecon++
	if fs.reconErr != nil {
		return 0, fs.reconErr
	}
	return fs.orphans, nil
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type recorder struct {
	processed, failures, orphans, cycles int
}

func (r *recorder) SweepCompleted(processed, failures int, _ time.Duration) {
	r.cycles++
	r.processed += processed
	r.failures += failures
}

func (r *recorder) OrphansRemoved(n int) { r.orphans += n }

func TestJanitorCycleSuccess(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	fs := &fakeStore{result: store.SweepResult{Processed: 3}, orphans: 2}
	rec := &recorder{}
	j := New(fs, Config{Interval: time.Hour, Clock: fixedClock(now), Recorder: rec, Logger: slog.Default()})

	res, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, now, fs.lastNow)

	mv := j.MetricsSnapshot()
	assert.EqualValues(t, 1, mv.Cycles)
	assert.EqualValues(t, 3, mv.Processed)
	assert.EqualValues(t, 2, mv.Orphans)
	assert.Equal(t, &recorder{processed: 3, orphans: 2, cycles: 1}, rec)
}

func TestJanitorCycleSweepError(t *testing.T) {
	fs := &fakeStore{sweepErr: errors.New("boom"), orphans: 1}
	j := New(fs, Config{Interval: time.Hour})
	_, err := j.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, fs.callsRecon, "reconcile runs even when the sweep fails")
	mv := j.MetricsSnapshot()
	assert.EqualValues(t, 0, mv.Processed)
	assert.EqualValues(t, 1, mv.Cycles)
	assert.EqualValues(t, 1, mv.Orphans)
}

func TestJanitorCycleReconcileError(t *testing.T) {
	fs := &fakeStore{result: store.SweepResult{Processed: 2}, reconErr: errors.New("r")}
	j := New(fs, Config{Interval: time.Hour})
	_, err := j.RunOnce(context.Background())
	assert.Error(t, err)
	assert.EqualValues(t, 2, j.MetricsSnapshot().Processed)
}

func TestJanitorCountsItemFailures(t *testing.T) {
	fs := &fakeStore{result: store.SweepResult{Processed: 2, Errors: []string{"aaaaaaaaaa"}}}
	rec := &recorder{}
	j := New(fs, Config{Interval: time.Hour, Recorder: rec})
	_, err := j.RunOnce(context.Background())
	require.NoError(t, err, "per item failures are reported, not returned")
	assert.EqualValues(t, 1, j.MetricsSnapshot().Failures)
	assert.Equal(t, 1, rec.failures)
}

func TestStartStopLoop(t *testing.T) {
	fs := &fakeStore{result: store.SweepResult{Processed: 1}}
	j := New(fs, Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)
	assert.Eventually(t, func() bool { return j.MetricsSnapshot().Cycles > 0 }, time.Second, 5*time.Millisecond)
	j.Stop()
	j.Stop()
}

func TestLoopExitsOnContextCancel(t *testing.T) {
	j := New(&fakeStore{}, Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	cancel()
	select {
	case <-j.doneCh:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after cancel")
	}
}

func TestNewDefaults(t *testing.T) {
	j := New(&fakeStore{}, Config{})
	assert.Equal(t, time.Minute, j.cfg.Interval)
	assert.NotNil(t, j.cfg.Logger)
	assert.NotNil(t, j.cfg.Clock)
	j.Stop()
}

func TestStartAlreadyStarted(t *testing.T) {
	j := New(&fakeStore{}, Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)
	tkr := j.ticker
	j.Start(ctx)
	assert.Same(t, tkr, j.ticker)
	j.Stop()
}
