// Package metrics exports operational counters for items, accesses and the
// janitor through a private Prometheus registry. Recorder implements both
// app.Observer and janitor.Recorder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/haukened/linkvault/internal/domain"
)

const namespace = "linkvault"

// Recorder holds the application counters.
type Recorder struct {
	registry *prometheus.Registry

	itemsCreated   *prometheus.CounterVec
	accesses       *prometheus.CounterVec
	itemsDeleted   *prometheus.CounterVec
	itemsClaimed   prometheus.Counter
	sweepCycles    prometheus.Counter
	sweepProcessed prometheus.Counter
	sweepFailures  prometheus.Counter
	sweepDuration  prometheus.Histogram
	orphansRemoved prometheus.Counter
}

// New registers every collector on a fresh registry, along with the Go
// runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		itemsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_created_total",
			Help:      "Items created, by kind.",
		}, []string{"kind"}),
		accesses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_outcomes_total",
			Help:      "Access attempts, by outcome.",
		}, []string{"outcome"}),
		itemsDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_deleted_total",
			Help:      "Items finalized, by reason.",
		}, []string{"reason"}),
		itemsClaimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_claimed_total",
			Help:      "Anonymous items claimed by an owner.",
		}),
		sweepCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "cycles_total",
			Help:      "Completed janitor cycles.",
		}),
		sweepProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "expired_processed_total",
			Help:      "Expired items finalized by the sweeper.",
		}),
		sweepFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "failures_total",
			Help:      "Items whose blob removal or finalization failed during a sweep.",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "cycle_duration_seconds",
			Help:      "Janitor cycle duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		orphansRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "orphan_blobs_removed_total",
			Help:      "Unreferenced blobs removed by reconcile.",
		}),
	}
}

// Gatherer exposes the registry for the HTTP handler.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

func (r *Recorder) ItemCreated(kind domain.Kind) {
	r.itemsCreated.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) AccessResolved(outcome domain.Outcome) {
	r.accesses.WithLabelValues(outcome.String()).Inc()
}

func (r *Recorder) ItemDeleted(reason string) {
	r.itemsDeleted.WithLabelValues(reason).Inc()
}

func (r *Recorder) ItemsClaimed(n int) {
	if n > 0 {
		r.itemsClaimed.Add(float64(n))
	}
}

// SweepCompleted records one janitor cycle. Swept items also count as
// deletions with reason "expired".
func (r *Recorder) SweepCompleted(processed, failures int, took time.Duration) {
	r.sweepCycles.Inc()
	r.sweepDuration.Observe(took.Seconds())
	if processed > 0 {
		r.sweepProcessed.Add(float64(processed))
		r.itemsDeleted.WithLabelValues("expired").Add(float64(processed))
	}
	if failures > 0 {
		r.sweepFailures.Add(float64(failures))
	}
}

func (r *Recorder) OrphansRemoved(n int) {
	if n > 0 {
		r.orphansRemoved.Add(float64(n))
	}
}

