// Package throttle implements the adaptive batch throttler (spec §4.Q) used
// by the online and mutual index builders: a control loop that grows the
// batch size and shrinks the inter-batch delay on success, and shrinks the
// batch size while growing the delay on a retryable failure.
package throttle

import (
	"math"
	"sync"

	"github.com/recordstore/engine/config"
	"github.com/recordstore/engine/engineerr"
)

// Stats is a point-in-time snapshot of a Throttler's internal counters.
type Stats struct {
	CurrentBatchSize      int
	CurrentDelayMs        int
	ConsecutiveSuccesses  int
	ConsecutiveFailures   int
	TotalSuccesses        int
	TotalFailures         int
}

// Throttler adjusts batch size and inter-batch delay in response to batch
// outcomes, per the ratios in config.Throttle. It is safe for concurrent use
// by a single index build's worker(s).
type Throttler struct {
	mu   sync.Mutex
	cfg  config.Throttle
	size int
	delayMs int
	consecSuccess int
	consecFailure int
	totalSuccess  int
	totalFailure  int
}

// New returns a Throttler seeded at cfg's initial batch size and delay.
func New(cfg config.Throttle) *Throttler {
	return &Throttler{
		cfg:     cfg,
		size:    cfg.InitialBatchSize,
		delayMs: cfg.InitialDelayMs,
	}
}

// Stats returns the current snapshot.
func (t *Throttler) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		CurrentBatchSize:     t.size,
		CurrentDelayMs:       t.delayMs,
		ConsecutiveSuccesses: t.consecSuccess,
		ConsecutiveFailures:  t.consecFailure,
		TotalSuccesses:       t.totalSuccess,
		TotalFailures:        t.totalFailure,
	}
}

// RecordSuccess notes a successful batch. The delay shrinks immediately;
// the batch size only grows once SuccessesBeforeIncrease consecutive
// successes have accumulated, so a single success after a run of failures
// doesn't immediately undo the caution just earned.
func (t *Throttler) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalSuccess++
	t.consecSuccess++
	t.consecFailure = 0

	t.delayMs = clampInt(int(math.Floor(float64(t.delayMs)*t.cfg.DelayDecreaseRatio)), t.cfg.MinDelayMs, t.cfg.MaxDelayMs)

	if t.cfg.SuccessesBeforeIncrease > 0 && t.consecSuccess%t.cfg.SuccessesBeforeIncrease == 0 {
		grown := int(math.Ceil(float64(t.size) * t.cfg.IncreaseRatio))
		t.size = clampInt(grown, t.cfg.MinBatchSize, t.cfg.MaxBatchSize)
	}
}

// RecordFailure notes a failed batch: the batch size shrinks and the delay
// grows immediately, both clamped to their configured bounds (spec S5).
func (t *Throttler) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalFailure++
	t.consecFailure++
	t.consecSuccess = 0

	shrunk := int(math.Floor(float64(t.size) * t.cfg.DecreaseRatio))
	t.size = clampInt(shrunk, t.cfg.MinBatchSize, t.cfg.MaxBatchSize)

	if t.delayMs <= 0 {
		t.delayMs = t.cfg.MinDelayMs
	}
	grownDelay := int(math.Ceil(float64(t.delayMs) * t.cfg.DelayIncreaseRatio))
	if grownDelay == 0 {
		grownDelay = t.cfg.MinDelayMs
		if grownDelay == 0 {
			grownDelay = 1
		}
	}
	t.delayMs = clampInt(grownDelay, t.cfg.MinDelayMs, t.cfg.MaxDelayMs)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// IsRetryable reports whether err represents a transient condition the
// throttler should react to (shrink batch, back off) rather than abort the
// build outright.
func IsRetryable(err error) bool {
	return engineerr.Retryable(err)
}
