package throttle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/recordstore/engine/config"
)

// S5: starting batch 100, decrease ratio 0.5, min 10 — repeated failures
// shrink the batch size down the clamped sequence 100, 50, 25, 12, and
// finally min(10) once the computed size would fall below it.
func TestAdaptiveThrottlerShrinksOnRepeatedFailure(t *testing.T) {
	th := New(config.DefaultThrottle())
	assert.Equal(t, 100, th.Stats().CurrentBatchSize)

	th.RecordFailure()
	assert.Equal(t, 50, th.Stats().CurrentBatchSize)

	th.RecordFailure()
	assert.Equal(t, 25, th.Stats().CurrentBatchSize)

	th.RecordFailure()
	assert.Equal(t, 12, th.Stats().CurrentBatchSize)

	th.RecordFailure()
	assert.Equal(t, 10, th.Stats().CurrentBatchSize, "batch size must clamp to MinBatchSize")
}

func TestSuccessGrowsBatchAfterThreshold(t *testing.T) {
	cfg := config.DefaultThrottle()
	cfg.InitialBatchSize = 10
	cfg.SuccessesBeforeIncrease = 2
	th := New(cfg)

	th.RecordSuccess()
	assert.Equal(t, 10, th.Stats().CurrentBatchSize, "size should not grow before the threshold")

	th.RecordSuccess()
	assert.Equal(t, 15, th.Stats().CurrentBatchSize)
}

func TestBatchSizeNeverExceedsMax(t *testing.T) {
	cfg := config.DefaultThrottle()
	cfg.InitialBatchSize = cfg.MaxBatchSize
	cfg.SuccessesBeforeIncrease = 1
	th := New(cfg)

	th.RecordSuccess()
	assert.Equal(t, cfg.MaxBatchSize, th.Stats().CurrentBatchSize)
}

func TestFailureResetsConsecutiveSuccessCounter(t *testing.T) {
	th := New(config.DefaultThrottle())
	th.RecordSuccess()
	th.RecordSuccess()
	assert.Equal(t, 2, th.Stats().ConsecutiveSuccesses)

	th.RecordFailure()
	s := th.Stats()
	assert.Equal(t, 0, s.ConsecutiveSuccesses)
	assert.Equal(t, 1, s.ConsecutiveFailures)
}

func TestDelayGrowsOnFailureAndShrinksOnSuccess(t *testing.T) {
	cfg := config.DefaultThrottle()
	cfg.InitialDelayMs = 100
	th := New(cfg)

	th.RecordFailure()
	afterFailure := th.Stats().CurrentDelayMs
	assert.Greater(t, afterFailure, 100)

	th.RecordSuccess()
	assert.Less(t, th.Stats().CurrentDelayMs, afterFailure)
}

func TestIsRetryableDelegatesToEngineerr(t *testing.T) {
	assert.False(t, IsRetryable(nil))
}
