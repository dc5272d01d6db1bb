// Package config loads the engine's configuration profiles (throttle,
// runner, planner, cache, session, split — §6) from YAML/TOML/env via
// viper, the way OPA layers its runtime configuration.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Priority enumerates transaction priority classes (§6 Runner config).
type Priority string

const (
	PrioritySystem  Priority = "system"
	PriorityDefault Priority = "default"
	PriorityBatch   Priority = "batch"
)

// ReadPriority enumerates read-priority classes.
type ReadPriority string

const (
	ReadPriorityHigh   ReadPriority = "high"
	ReadPriorityNormal ReadPriority = "normal"
	ReadPriorityLow    ReadPriority = "low"
)

// WeakReadSemantics models §4.P's staleness/min-version acceptance policy
// attached to a runner configuration.
type WeakReadSemantics struct {
	Bounded         bool
	MaxStalenessSec int
}

// Throttle holds §6's throttle configuration.
type Throttle struct {
	InitialBatchSize      int
	MinBatchSize          int
	MaxBatchSize          int
	IncreaseRatio         float64
	DecreaseRatio         float64
	SuccessesBeforeIncrease int
	InitialDelayMs        int
	MinDelayMs            int
	MaxDelayMs            int
	DelayIncreaseRatio    float64
	DelayDecreaseRatio    float64
}

// DefaultThrottle returns the conservative default throttle profile.
func DefaultThrottle() Throttle {
	return Throttle{
		InitialBatchSize:        100,
		MinBatchSize:            10,
		MaxBatchSize:            1000,
		IncreaseRatio:           1.5,
		DecreaseRatio:           0.5,
		SuccessesBeforeIncrease: 3,
		InitialDelayMs:          0,
		MinDelayMs:              0,
		MaxDelayMs:              5000,
		DelayIncreaseRatio:      2.0,
		DelayDecreaseRatio:      0.5,
	}
}

// Runner holds §6's runner configuration.
type Runner struct {
	Priority           Priority
	ReadPriority       ReadPriority
	TimeoutMs          int
	RetryLimit         int
	MaxRetryDelayMs    int
	UseGrvCache        bool
	SnapshotRywDisable bool
	DebugIdentifier    string
	LogTransaction     bool
	Tags               map[string]string
	WeakReadSemantics  WeakReadSemantics
}

// Runner presets (§4.O).
func RunnerDefault() Runner {
	return Runner{Priority: PriorityDefault, ReadPriority: ReadPriorityNormal, TimeoutMs: 5000, RetryLimit: 5, MaxRetryDelayMs: 1000}
}

func RunnerReadOnly() Runner {
	r := RunnerDefault()
	r.ReadPriority = ReadPriorityLow
	r.UseGrvCache = true
	return r
}

func RunnerBatch() Runner {
	r := RunnerDefault()
	r.Priority = PriorityBatch
	r.TimeoutMs = 30000
	r.RetryLimit = 10
	return r
}

func RunnerSystem() Runner {
	r := RunnerDefault()
	r.Priority = PrioritySystem
	r.RetryLimit = 20
	return r
}

func RunnerInteractive() Runner {
	r := RunnerDefault()
	r.TimeoutMs = 1000
	r.RetryLimit = 3
	return r
}

func RunnerLongRunning() Runner {
	r := RunnerDefault()
	r.Priority = PriorityBatch
	r.TimeoutMs = 60000
	r.RetryLimit = 50
	r.MaxRetryDelayMs = 5000
	return r
}

// Planner holds §6's planner configuration.
type Planner struct {
	ComplexityThreshold          int
	MaxPlanEnumerations          int
	MaxRuleApplications          int
	TimeoutSeconds               int
	EnableCostBasedOptimization  bool
	EnablePlanCaching            bool
	EnableIndexIntersection      bool
	EnableIndexUnion             bool
	EnableInPredicateOptimization bool
}

func PlannerConservative() Planner {
	return Planner{ComplexityThreshold: 50, MaxPlanEnumerations: 20, MaxRuleApplications: 20, TimeoutSeconds: 5, EnableCostBasedOptimization: false, EnablePlanCaching: false, EnableIndexIntersection: false, EnableIndexUnion: false, EnableInPredicateOptimization: false}
}

func PlannerDefault() Planner {
	return Planner{ComplexityThreshold: 200, MaxPlanEnumerations: 100, MaxRuleApplications: 100, TimeoutSeconds: 10, EnableCostBasedOptimization: true, EnablePlanCaching: true, EnableIndexIntersection: true, EnableIndexUnion: true, EnableInPredicateOptimization: true}
}

func PlannerAggressive() Planner {
	p := PlannerDefault()
	p.ComplexityThreshold = 1000
	p.MaxPlanEnumerations = 500
	p.MaxRuleApplications = 500
	p.TimeoutSeconds = 30
	return p
}

func PlannerMinimal() Planner {
	return Planner{ComplexityThreshold: 20, MaxPlanEnumerations: 5, MaxRuleApplications: 5, TimeoutSeconds: 1}
}

// Cache holds §6's cache configuration.
type Cache struct {
	MaxEntries      int
	MaxMemoryBytes  int64
	TTLSeconds      int
	EvictionPolicy  string // "lru" | "fifo"
}

// Session holds §6's synchronized-session configuration.
type Session struct {
	SessionID              string
	SessionName            string
	LockTimeoutSeconds      int
	RenewalIntervalSeconds  int
	AllowLockStealing       bool
	StaleThresholdSeconds   int
}

func DefaultSession() Session {
	return Session{
		LockTimeoutSeconds:     30,
		RenewalIntervalSeconds: 10,
		StaleThresholdSeconds:  60,
	}
}

// Split holds §6's large-value-splitter configuration.
type Split struct {
	MaxValueSize int
	Enabled      bool
}

func DefaultSplit() Split {
	return Split{MaxValueSize: 90 * 1024, Enabled: true}
}

// Root is the top-level configuration document loadable via viper.
type Root struct {
	Throttle Throttle
	Runner   Runner
	Planner  Planner
	Cache    Cache
	Session  Session
	Split    Split
}

// Load reads configuration from the given file path (if non-empty),
// environment variables prefixed RECORDSTORE_, and finally built-in
// defaults, the way OPA layers config sources via viper.
func Load(path string) (Root, error) {
	v := viper.New()
	v.SetEnvPrefix("RECORDSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Root{}, err
		}
	}

	root := Root{
		Throttle: DefaultThrottle(),
		Runner:   RunnerDefault(),
		Planner:  PlannerDefault(),
		Session:  DefaultSession(),
		Split:    DefaultSplit(),
		Cache: Cache{
			MaxEntries:     v.GetInt("cache.maxentries"),
			MaxMemoryBytes: v.GetInt64("cache.maxmemorybytes"),
			TTLSeconds:     v.GetInt("cache.ttlseconds"),
			EvictionPolicy: v.GetString("cache.evictionpolicy"),
		},
	}

	if v.IsSet("runner.timeoutms") {
		root.Runner.TimeoutMs = v.GetInt("runner.timeoutms")
	}
	if v.IsSet("runner.retrylimit") {
		root.Runner.RetryLimit = v.GetInt("runner.retrylimit")
	}
	if v.IsSet("throttle.initialbatchsize") {
		root.Throttle.InitialBatchSize = v.GetInt("throttle.initialbatchsize")
	}
	if v.IsSet("split.maxvaluesize") {
		root.Split.MaxValueSize = v.GetInt("split.maxvaluesize")
	}

	return root, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.maxentries", 10000)
	v.SetDefault("cache.maxmemorybytes", 64<<20)
	v.SetDefault("cache.ttlseconds", 300)
	v.SetDefault("cache.evictionpolicy", "lru")
}

// BackoffBase is the base delay used by the transaction runner's full-jitter
// exponential backoff (§8 property 10). The runner reads it; the runner's
// backoff tests mirror its value in a local constant.
const BackoffBase = 10 * time.Millisecond
