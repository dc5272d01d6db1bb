// Package metrics exposes the transaction runner's instrumentation surface:
// a process-wide Prometheus registry plus a per-run listener callback,
// mirroring opa/metrics/prometheus.go's global-registry pattern.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the Prometheus metrics registry singleton used by the
// transaction runner and the online indexer.
var Registry *prometheus.Registry

var (
	AttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recordstore_txn_attempts_total",
		Help: "Number of transaction-runner attempts, labeled by outcome.",
	}, []string{"outcome"})

	RetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recordstore_txn_retry_total",
		Help: "Number of transaction retries due to a retryable error.",
	})

	CommitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recordstore_txn_commit_seconds",
		Help:    "Commit latency of successful transaction-runner attempts.",
		Buckets: prometheus.DefBuckets,
	})

	IndexBuildBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recordstore_index_build_batches_total",
		Help: "Number of batches committed by the online indexer.",
	})
)

func init() {
	Reset()
}

// Reset recreates the global registry; used by tests that construct many
// runner/store instances to avoid duplicate-collector registration panics.
func Reset() {
	Registry = prometheus.NewRegistry()
	Registry.MustRegister(AttemptsTotal, RetryTotal, CommitSeconds, IndexBuildBatches)
}

// AttemptTiming carries the per-attempt timing breakdown the transaction
// runner reports to registered Listeners (§4.O).
type AttemptTiming struct {
	TotalNanos          int64
	GetReadVersionNanos  int64
	UserCodeNanos        int64
	CommitNanos          int64
	RetryCount           int
	ReadVersion          int64
	CommitVersion        int64
	ReadVersionCached    bool
}

// Listener is notified on every transaction-runner attempt (success,
// retryable failure, or final failure).
type Listener func(timing AttemptTiming, err error)

// Aggregator fans a single runner invocation's attempt timings out to all
// registered Listeners and into the Prometheus registry. Safe for
// concurrent use by multiple runner goroutines.
type Aggregator struct {
	mu        sync.RWMutex
	listeners []Listener
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) Register(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

func (a *Aggregator) Notify(timing AttemptTiming, err error) {
	outcome := "success"
	switch {
	case err != nil && timing.RetryCount > 0:
		outcome = "retried_failure"
	case err != nil:
		outcome = "failure"
	}
	AttemptsTotal.WithLabelValues(outcome).Inc()
	if timing.RetryCount > 0 {
		RetryTotal.Add(float64(timing.RetryCount))
	}
	if err == nil {
		CommitSeconds.Observe(time.Duration(timing.CommitNanos).Seconds())
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, l := range a.listeners {
		l(timing, err)
	}
}
