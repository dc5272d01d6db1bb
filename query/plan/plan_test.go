package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordstore/engine/config"
	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/query"
)

func eqField(name string) query.Condition {
	return query.Field(query.ScalarFieldCondition{Field: name, Operator: query.OpEq, Value: "x"})
}

// S7: a condition inducing more than five plan enumerations with
// maxPlanEnumerations=5 must fail with planEnumerationsExceeded(count:6,
// limit:5).
func TestPlanEnumerationsExceededMatchesScenarioS7(t *testing.T) {
	c := query.And(eqField("a"), eqField("b"), eqField("c"))
	indexes := AvailableIndexes{"a": true, "b": true, "c": true}
	cfg := config.PlannerMinimal() // MaxPlanEnumerations: 5
	cfg.MaxRuleApplications = 1000

	_, err := Plan(c, indexes, cfg)
	require.Error(t, err)
	engErr, ok := err.(*engineerr.Error)
	require.True(t, ok)
	assert.Equal(t, engineerr.PlanEnumerationsExceeded, engErr.Code)
	assert.Equal(t, 6, engErr.Fields["count"])
	assert.Equal(t, 5, engErr.Fields["limit"])
}

func TestPlanSelectsIndexScanOverTableScanWhenIndexed(t *testing.T) {
	c := eqField("email")
	cfg := config.PlannerDefault()
	best, err := Plan(c, AvailableIndexes{"email": true}, cfg)
	require.NoError(t, err)
	assert.Equal(t, OpIndexScan, best.Op)
	assert.Equal(t, 10, best.Complexity())
}

func TestPlanFallsBackToTableScanFilterWhenNotIndexed(t *testing.T) {
	c := eqField("email")
	cfg := config.PlannerDefault()
	best, err := Plan(c, AvailableIndexes{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, OpFilter, best.Op)
	assert.Equal(t, OpTableScan, best.Children[0].Op)
}

func TestPlanComplexityExceededWhenNoCandidateFits(t *testing.T) {
	c := eqField("email")
	cfg := config.PlannerDefault()
	cfg.ComplexityThreshold = 5 // below even an index scan's weight of 10
	_, err := Plan(c, AvailableIndexes{"email": true}, cfg)
	require.Error(t, err)
	assert.Equal(t, engineerr.PlanComplexityExceeded, err.(*engineerr.Error).Code)
}

func TestRuleApplicationsExceededStopsEnumeration(t *testing.T) {
	c := query.And(eqField("a"), eqField("b"))
	cfg := config.PlannerDefault()
	cfg.MaxRuleApplications = 1
	_, err := Plan(c, AvailableIndexes{"a": true, "b": true}, cfg)
	require.Error(t, err)
	assert.Equal(t, engineerr.RuleApplicationsExceeded, err.(*engineerr.Error).Code)
}

func TestPlanningTimeoutExceededWhenDeadlinePassed(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// The first nowFn call computes the deadline (fixed+1s); every call
	// thereafter (the enumeration's own deadline checks) reports a time
	// already past it, deterministically triggering the timeout.
	calls := 0
	nowFn = func() time.Time {
		calls++
		if calls == 1 {
			return fixed
		}
		return fixed.Add(2 * time.Second)
	}
	defer func() { nowFn = time.Now }()

	c := eqField("a")
	cfg := config.PlannerDefault()
	cfg.TimeoutSeconds = 1

	_, err := Plan(c, AvailableIndexes{"a": true}, cfg)
	require.Error(t, err)
	assert.Equal(t, engineerr.PlanningTimeoutExceeded, err.(*engineerr.Error).Code)
}

func TestComplexityWeightsMatchSpec(t *testing.T) {
	assert.Equal(t, 100, Node{Op: OpTableScan}.Complexity())
	assert.Equal(t, 10, Node{Op: OpIndexScan}.Complexity())
	assert.Equal(t, 1, Node{Op: OpFilter}.Complexity())
	assert.Equal(t, 10, Node{Op: OpSort}.Complexity())
}

func TestTieBreakPrefersFewerOperatorsThenDescription(t *testing.T) {
	// Both candidates have complexity 10 (Union itself carries no weight);
	// the bare index scan has fewer operators and must win the tie-break.
	a := Node{Op: OpUnion, Children: []Node{{Op: OpIndexScan, Field: "a"}}}
	b := Node{Op: OpIndexScan, Field: "a"}
	require.Equal(t, a.Complexity(), b.Complexity())
	best, err := selectBest([]Node{a, b}, 1000)
	require.NoError(t, err)
	assert.Equal(t, b, best, "fewer operators must win when complexity ties are possible")
}
