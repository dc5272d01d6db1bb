package txnrunner

import (
	"sync"
	"time"
)

// CacheKind selects a read-version cache policy (spec §4.P).
type CacheKind int

const (
	PolicyServer CacheKind = iota // always miss: force a fresh GetReadVersion
	PolicyCached                 // return the last known version, regardless of age
	PolicyStale                  // return the last known version if younger than StaleSeconds
	PolicyAtLeast                // return the last known version if it is >= MinVersion
)

// CachePolicy parameterizes a CacheKind.
type CachePolicy struct {
	Kind         CacheKind
	StaleSeconds int
	MinVersion   int64
}

func Server() CachePolicy        { return CachePolicy{Kind: PolicyServer} }
func Cached() CachePolicy        { return CachePolicy{Kind: PolicyCached} }
func Stale(seconds int) CachePolicy     { return CachePolicy{Kind: PolicyStale, StaleSeconds: seconds} }
func AtLeast(version int64) CachePolicy { return CachePolicy{Kind: PolicyAtLeast, MinVersion: version} }

// ReadVersionCache is a single process-wide cache of the most recently
// observed read/commit versions (spec §4.P). Safe for concurrent use; a
// single shared instance is required for its cross-transaction visibility
// guarantees to hold (spec §5).
type ReadVersionCache struct {
	mu sync.Mutex

	lastReadVersion   *int64
	lastCommitVersion *int64
	lastUpdatedAt     time.Time

	hitCount  int64
	missCount int64

	now func() time.Time
}

// NewReadVersionCache returns an empty cache.
func NewReadVersionCache() *ReadVersionCache {
	return &ReadVersionCache{now: time.Now}
}

// RecordCommitVersion advances the cached commit version, ignoring v if it
// is not newer than what is already cached (spec §8 property 4:
// monotonicity).
func (c *ReadVersionCache) RecordCommitVersion(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastCommitVersion == nil || v > *c.lastCommitVersion {
		c.lastCommitVersion = &v
	}
}

// UpdateReadVersion records a freshly observed read version, ignoring v if
// it regresses the cache (monotonicity, spec §8 property 4).
func (c *ReadVersionCache) UpdateReadVersion(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastReadVersion != nil && v <= *c.lastReadVersion {
		return
	}
	c.lastReadVersion = &v
	c.lastUpdatedAt = c.now()
}

// GetCachedVersion returns the version policy would accept reusing, or nil
// if policy requires a fresh GetReadVersion call (spec §8 S6).
func (c *ReadVersionCache) GetCachedVersion(policy CachePolicy) *int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result *int64
	switch policy.Kind {
	case PolicyServer:
		result = nil
	case PolicyCached:
		result = c.lastReadVersion
	case PolicyStale:
		// Inclusive boundary: cached iff now-lastUpdatedAt <= StaleSeconds.
		// StaleSeconds<=0 always misses (stale(0) has no window to hit within,
		// even immediately after an update where elapsed==0).
		if c.lastReadVersion != nil && policy.StaleSeconds > 0 &&
			c.now().Sub(c.lastUpdatedAt).Seconds() <= float64(policy.StaleSeconds) {
			result = c.lastReadVersion
		}
	case PolicyAtLeast:
		if c.lastReadVersion != nil && *c.lastReadVersion >= policy.MinVersion {
			result = c.lastReadVersion
		}
	}

	if result != nil {
		c.hitCount++
		v := *result
		return &v
	}
	c.missCount++
	return nil
}

// Invalidate clears the cache, forcing the next GetCachedVersion to miss
// regardless of policy.
func (c *ReadVersionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastReadVersion = nil
	c.lastCommitVersion = nil
}

// Stats is a snapshot of cache hit/miss counters.
type Stats struct {
	HitCount  int64
	MissCount int64
}

func (c *ReadVersionCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{HitCount: c.hitCount, MissCount: c.missCount}
}
