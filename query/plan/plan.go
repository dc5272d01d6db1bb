// Package plan implements the query planner (spec §4.M) and executor
// (spec §4.N): candidate physical plans are enumerated from a
// query.Condition under complexity/enumeration/rule/time budgets, the
// lowest-cost plan under the complexity threshold is selected, and the
// executor translates it into transactional range/point reads honoring a
// read-version cache policy.
//
// Modeled on OPA's topdown evaluator: a bounded, cancellable evaluation
// over a closed set of node kinds, adapted here to enumerate physical
// plans instead of evaluating Rego expressions.
package plan

import (
	"sort"
	"time"

	"github.com/recordstore/engine/config"
	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/query"
)

// Op is a physical plan operator kind.
type Op int

const (
	OpTableScan Op = iota
	OpIndexScan
	OpFilter
	OpSort
	OpIntersection
	OpUnion
)

// complexityWeight is the structural weight per operator (spec §4.M):
// table-scan 100, index-scan 10, filter 1, sort 10. Intersection/Union are
// pure combinators and carry no weight of their own beyond their children.
var complexityWeight = map[Op]int{
	OpTableScan:    100,
	OpIndexScan:    10,
	OpFilter:       1,
	OpSort:         10,
	OpIntersection: 0,
	OpUnion:        0,
}

// Node is one physical plan operator, possibly wrapping children (Filter
// wraps a scan; Intersection/Union wrap the branches they combine).
type Node struct {
	Op       Op
	Field    string
	Negated  bool
	Children []Node
}

// Complexity is the sum of every operator's weight in the plan tree.
func (n Node) Complexity() int {
	total := complexityWeight[n.Op]
	for _, c := range n.Children {
		total += c.Complexity()
	}
	return total
}

// OperatorCount is the total number of operators in the plan tree, used as
// the primary tie-break between equal-cost plans.
func (n Node) OperatorCount() int {
	total := 1
	for _, c := range n.Children {
		total += c.OperatorCount()
	}
	return total
}

// Describe renders a canonical, lexicographically-comparable description
// of the plan tree, used as the final tie-break.
func (n Node) Describe() string {
	s := opName(n.Op)
	if n.Field != "" {
		s += "(" + n.Field + ")"
	}
	if n.Negated {
		s = "not " + s
	}
	if len(n.Children) > 0 {
		s += "["
		for i, c := range n.Children {
			if i > 0 {
				s += ","
			}
			s += c.Describe()
		}
		s += "]"
	}
	return s
}

func opName(op Op) string {
	switch op {
	case OpTableScan:
		return "tableScan"
	case OpIndexScan:
		return "indexScan"
	case OpFilter:
		return "filter"
	case OpSort:
		return "sort"
	case OpIntersection:
		return "intersection"
	case OpUnion:
		return "union"
	default:
		return "unknown"
	}
}

// AvailableIndexes reports which fields have a usable index for planning.
type AvailableIndexes = query.AvailableIndexes

// enumState threads the rule-application and deadline budgets through a
// single planning call; the enumeration-count budget is applied afterwards
// by Plan.
type enumState struct {
	ruleApps     int
	maxRuleApps  int
	deadline     time.Time
}

func (s *enumState) applyRule() error {
	s.ruleApps++
	if s.ruleApps > s.maxRuleApps {
		return engineerr.New(engineerr.RuleApplicationsExceeded, "plan rule application budget exceeded",
			"count", s.ruleApps, "limit", s.maxRuleApps)
	}
	return nil
}

// nowFn is overridden in tests to make the timeout budget deterministic.
var nowFn = time.Now

func (s *enumState) checkDeadline() error {
	if !s.deadline.IsZero() && nowFn().After(s.deadline) {
		return engineerr.New(engineerr.PlanningTimeoutExceeded, "plan enumeration exceeded its wall-clock budget")
	}
	return nil
}

// fieldOptions returns every candidate single-field plan for f: an index
// scan if the field is indexed, plus a table-scan-with-filter fallback
// that is always available. Each option counts as one rule application
// (the decision of how to satisfy this one field condition).
func fieldOptions(f query.ScalarFieldCondition, indexes AvailableIndexes, s *enumState) ([]Node, error) {
	var out []Node
	if indexes[f.Field] {
		if err := s.applyRule(); err != nil {
			return nil, err
		}
		out = append(out, Node{Op: OpIndexScan, Field: f.Field})
	}
	if err := s.applyRule(); err != nil {
		return nil, err
	}
	out = append(out, Node{Op: OpFilter, Field: f.Field, Children: []Node{{Op: OpTableScan}}})
	return out, nil
}

// enumerate generates every raw candidate plan for c, without consulting
// the enumeration-count budget (that is checked once, over the final
// candidate list, by Plan).
func enumerate(c query.Condition, indexes AvailableIndexes, s *enumState) ([]Node, error) {
	if err := s.checkDeadline(); err != nil {
		return nil, err
	}
	switch c.Kind {
	case query.KindAlwaysTrue:
		return []Node{{Op: OpTableScan}}, nil
	case query.KindAlwaysFalse:
		return nil, nil
	case query.KindField:
		return fieldOptions(c.Field, indexes, s)
	case query.KindNegation:
		children, err := enumerate(c.Children[0], indexes, s)
		if err != nil {
			return nil, err
		}
		out := make([]Node, len(children))
		for i, ch := range children {
			out[i] = Node{Op: OpFilter, Negated: true, Children: []Node{ch}}
		}
		return out, nil
	case query.KindConjunction:
		return combine(c.Children, indexes, s, OpIntersection)
	case query.KindDisjunction:
		return combine(c.Children, indexes, s, OpUnion)
	default:
		return nil, nil
	}
}

// combine enumerates every child's candidates and forms the cartesian
// product, wrapping each combination in a combinator node of kind op. A
// single-element combination collapses to that element directly.
func combine(children []query.Condition, indexes AvailableIndexes, s *enumState, op Op) ([]Node, error) {
	childLists := make([][]Node, 0, len(children))
	for _, ch := range children {
		opts, err := enumerate(ch, indexes, s)
		if err != nil {
			return nil, err
		}
		if len(opts) == 0 {
			return nil, nil
		}
		childLists = append(childLists, opts)
	}
	if len(childLists) == 0 {
		return nil, nil
	}
	if len(childLists) == 1 {
		return childLists[0], nil
	}

	total := 1
	for _, l := range childLists {
		total *= len(l)
	}
	out := make([]Node, 0, total)
	for i := 0; i < total; i++ {
		if err := s.checkDeadline(); err != nil {
			return nil, err
		}
		rem := i
		combo := make([]Node, len(childLists))
		for j, l := range childLists {
			combo[j] = l[rem%len(l)]
			rem /= len(l)
		}
		out = append(out, Node{Op: op, Children: combo})
	}
	return out, nil
}

// Enumerate returns every candidate plan for c within cfg's rule and
// timeout budgets, without yet applying the enumeration-count or
// complexity budgets (use Plan for the full pipeline).
func Enumerate(c query.Condition, indexes AvailableIndexes, cfg config.Planner) ([]Node, error) {
	s := &enumState{maxRuleApps: cfg.MaxRuleApplications}
	if cfg.TimeoutSeconds > 0 {
		s.deadline = nowFn().Add(time.Duration(cfg.TimeoutSeconds) * time.Second)
	}
	return enumerate(c, indexes, s)
}

// Plan runs the full §4.M pipeline: enumerate candidates (subject to the
// rule/timeout budgets), apply the enumeration-count budget over the final
// candidate list, then select the lowest-cost plan within
// complexityThreshold, breaking ties by fewer operators then by
// lexicographic description.
func Plan(c query.Condition, indexes AvailableIndexes, cfg config.Planner) (Node, error) {
	candidates, err := Enumerate(c, indexes, cfg)
	if err != nil {
		return Node{}, err
	}

	count := 0
	inBudget := make([]Node, 0, len(candidates))
	for _, cand := range candidates {
		count++
		if count > cfg.MaxPlanEnumerations {
			return Node{}, engineerr.New(engineerr.PlanEnumerationsExceeded, "plan enumeration budget exceeded",
				"count", count, "limit", cfg.MaxPlanEnumerations)
		}
		inBudget = append(inBudget, cand)
	}

	return selectBest(inBudget, cfg.ComplexityThreshold)
}

// selectBest picks the lowest-cost candidate whose complexity does not
// exceed threshold, breaking ties by fewer operators then by
// lexicographically smaller description.
func selectBest(candidates []Node, threshold int) (Node, error) {
	var within []Node
	for _, c := range candidates {
		if c.Complexity() <= threshold {
			within = append(within, c)
		}
	}
	if len(within) == 0 {
		return Node{}, engineerr.New(engineerr.PlanComplexityExceeded, "no candidate plan fits within the complexity budget",
			"threshold", threshold, "candidateCount", len(candidates))
	}

	sort.Slice(within, func(i, j int) bool {
		a, b := within[i], within[j]
		if a.Complexity() != b.Complexity() {
			return a.Complexity() < b.Complexity()
		}
		if a.OperatorCount() != b.OperatorCount() {
			return a.OperatorCount() < b.OperatorCount()
		}
		return a.Describe() < b.Describe()
	})
	return within[0], nil
}
