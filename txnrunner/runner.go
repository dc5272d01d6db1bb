// Package txnrunner implements the transaction runner (spec §4.O) — a
// retrying driver around kv.Database.CreateTransaction with config-profile
// knobs, full-jitter exponential backoff, and metrics/listener reporting —
// and the read-version cache (spec §4.P) it consults when a runner config
// opts into cached reads.
package txnrunner

import (
	"context"
	"time"

	"github.com/recordstore/engine/config"
	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/kv"
	"github.com/recordstore/engine/metrics"
)

// Runner drives transactions against db, retrying retryable failures with
// full-jitter backoff and reporting every attempt to its metrics
// aggregator.
type Runner struct {
	DB         kv.Database
	Aggregator *metrics.Aggregator
	Versions   *ReadVersionCache
}

// New wires a Runner. agg and versions may be nil; New substitutes fresh
// instances so callers don't have to special-case wiring a standalone
// runner in tests.
func New(db kv.Database, agg *metrics.Aggregator, versions *ReadVersionCache) *Runner {
	if agg == nil {
		agg = metrics.NewAggregator()
	}
	if versions == nil {
		versions = NewReadVersionCache()
	}
	return &Runner{DB: db, Aggregator: agg, Versions: versions}
}

// Body is the user transaction function a Run call executes, possibly
// several times under retry.
type Body[T any] func(ctx context.Context, txn kv.Transaction) (T, error)

// Run executes body under cfg's retry/backoff/priority profile, retrying
// on retryable engineerr.Error codes and giving up once cfg.RetryLimit
// retries have failed (cfg.RetryLimit+1 attempts in all) or on a
// non-retryable error.
func Run[T any](ctx context.Context, r *Runner, cfg config.Runner, body Body[T]) (T, error) {
	var zero T
	jb := newJitteredBackoff(cfg.MaxRetryDelayMs)

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryLimit; attempt++ {
		start := time.Now()

		txn, err := r.DB.CreateTransaction(ctx)
		if err != nil {
			return zero, err
		}
		txn.SetOptions(toKVOptions(cfg))

		if cfg.UseGrvCache {
			policy := weakReadPolicy(cfg.WeakReadSemantics)
			if cached := r.Versions.GetCachedVersion(policy); cached != nil {
				txn.SetReadVersion(*cached)
			}
		}

		grvStart := time.Now()
		readVersion, grvErr := txn.GetReadVersion(ctx)
		grvNanos := time.Since(grvStart).Nanoseconds()
		if grvErr != nil {
			txn.Cancel()
			lastErr = grvErr
			if !retryAndWait(ctx, jb, attempt, cfg, r, start, grvErr) {
				break
			}
			continue
		}
		r.Versions.UpdateReadVersion(readVersion)

		userStart := time.Now()
		result, bodyErr := body(ctx, txn)
		userNanos := time.Since(userStart).Nanoseconds()

		if bodyErr != nil {
			txn.Cancel()
			lastErr = bodyErr
			timing := metrics.AttemptTiming{
				TotalNanos:         time.Since(start).Nanoseconds(),
				GetReadVersionNanos: grvNanos,
				UserCodeNanos:      userNanos,
				RetryCount:         attempt,
				ReadVersion:        readVersion,
			}
			r.Aggregator.Notify(timing, bodyErr)
			if !engineerr.Retryable(bodyErr) {
				return zero, bodyErr
			}
			if attempt == cfg.RetryLimit {
				break
			}
			sleep(ctx, jb.NextBackOff())
			continue
		}

		commitStart := time.Now()
		commitVersion, commitErr := txn.Commit(ctx)
		commitNanos := time.Since(commitStart).Nanoseconds()

		timing := metrics.AttemptTiming{
			TotalNanos:          time.Since(start).Nanoseconds(),
			GetReadVersionNanos:  grvNanos,
			UserCodeNanos:        userNanos,
			CommitNanos:          commitNanos,
			RetryCount:           attempt,
			ReadVersion:          readVersion,
			CommitVersion:        commitVersion,
		}

		if commitErr != nil {
			lastErr = commitErr
			r.Aggregator.Notify(timing, commitErr)
			if !engineerr.Retryable(commitErr) {
				return zero, commitErr
			}
			if attempt == cfg.RetryLimit {
				break
			}
			sleep(ctx, jb.NextBackOff())
			continue
		}

		r.Versions.RecordCommitVersion(commitVersion)
		r.Aggregator.Notify(timing, nil)
		return result, nil
	}

	return zero, lastErr
}

// retryAndWait centralizes the "sleep then continue, unless attempts are
// exhausted" decision for the GetReadVersion failure path.
func retryAndWait(ctx context.Context, jb *jitteredBackoff, attempt int, cfg config.Runner, r *Runner, start time.Time, err error) bool {
	timing := metrics.AttemptTiming{TotalNanos: time.Since(start).Nanoseconds(), RetryCount: attempt}
	r.Aggregator.Notify(timing, err)
	if !engineerr.Retryable(err) || attempt == cfg.RetryLimit {
		return false
	}
	sleep(ctx, jb.NextBackOff())
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func toKVOptions(cfg config.Runner) kv.Options {
	opts := kv.Options{
		TimeoutMs:          cfg.TimeoutMs,
		RetryLimit:         cfg.RetryLimit,
		MaxRetryDelayMs:    cfg.MaxRetryDelayMs,
		SnapshotRywDisable: cfg.SnapshotRywDisable,
		DebugIdentifier:    cfg.DebugIdentifier,
		LogTransaction:     cfg.LogTransaction,
	}
	switch cfg.Priority {
	case config.PrioritySystem:
		opts.Priority = kv.PrioritySystem
	case config.PriorityBatch:
		opts.Priority = kv.PriorityBatch
	default:
		opts.Priority = kv.PriorityDefault
	}
	switch cfg.ReadPriority {
	case config.ReadPriorityHigh:
		opts.ReadPriority = kv.ReadPriorityHigh
	case config.ReadPriorityLow:
		opts.ReadPriority = kv.ReadPriorityLow
	default:
		opts.ReadPriority = kv.ReadPriorityNormal
	}
	for k := range cfg.Tags {
		opts.Tags = append(opts.Tags, k)
	}
	return opts
}

func weakReadPolicy(w config.WeakReadSemantics) CachePolicy {
	if !w.Bounded {
		return Cached()
	}
	return Stale(w.MaxStalenessSec)
}
