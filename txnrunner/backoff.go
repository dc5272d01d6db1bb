package txnrunner

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/recordstore/engine/config"
)

// calculateBackoff is the pure full-jitter-upper-half exponential backoff
// formula (spec §8 property 10, §9 design note):
//
//	min(maxDelayMs, base*2^attempt) + rand(0, 0.5*base*2^attempt)
//
// clamped to maxDelayMs*1.5. While base*2^attempt <= maxDelayMs the result
// falls in [base*2^attempt, base*2^attempt*1.5]; once base*2^attempt
// exceeds maxDelayMs it falls in [maxDelayMs, maxDelayMs*1.5]. Exposed as a
// standalone function so it is testable without a transaction or clock.
func calculateBackoff(attempt int, maxDelayMs int) int {
	base := int(config.BackoffBase / time.Millisecond)
	if maxDelayMs <= 0 {
		maxDelayMs = base
	}

	exp := base
	for i := 0; i < attempt; i++ {
		next := exp * 2
		if next <= 0 || next/2 != exp { // overflow guard for pathologically large attempt counts
			exp = maxDelayMs * 2
			break
		}
		exp = next
	}

	capped := exp
	if capped > maxDelayMs {
		capped = maxDelayMs
	}

	jitterRange := exp / 2
	jitter := 0
	if jitterRange > 0 {
		jitter = rand.Intn(jitterRange + 1)
	}

	total := capped + jitter
	outerMax := int(float64(maxDelayMs) * 1.5)
	if total > outerMax {
		total = outerMax
	}
	return total
}

// jitteredBackoff adapts calculateBackoff to cenkalti/backoff's BackOff
// interface, so the runner's retry loop can be driven by backoff.Retry
// while the jitter formula itself stays an independently-tested pure
// function.
type jitteredBackoff struct {
	attempt   int
	maxDelayMs int
}

func newJitteredBackoff(maxDelayMs int) *jitteredBackoff {
	return &jitteredBackoff{maxDelayMs: maxDelayMs}
}

func (j *jitteredBackoff) NextBackOff() time.Duration {
	d := calculateBackoff(j.attempt, j.maxDelayMs)
	j.attempt++
	return time.Duration(d) * time.Millisecond
}

func (j *jitteredBackoff) Reset() {
	j.attempt = 0
}

var _ backoff.BackOff = (*jitteredBackoff)(nil)
