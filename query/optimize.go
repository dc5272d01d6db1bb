package query

// Strategy names the IN-predicate rewrite rule chosen for one
// ScalarFieldCondition (spec §4.L).
type Strategy int

const (
	// NoOptimization names the case of a condition with no IN predicate.
	// SelectStrategies reports that case by returning no plans, so no Plan
	// it returns carries this value.
	NoOptimization Strategy = iota
	// IndexUnion issues one index point-lookup per value and unions the
	// results; chosen when an index exists on the field and the value
	// count is within unionThreshold.
	IndexUnion
	// InJoin materializes the value set and streams a join against a full
	// scan; chosen when no index exists but the value count exceeds
	// unionThreshold up to joinThreshold.
	InJoin
	// OrExpansion rewrites "v IN S" as "∨ v=s"; the fallback for every
	// case the two rules above do not cover: small unindexed value sets,
	// unindexed sets above joinThreshold, and indexed fields whose value
	// count exceeds unionThreshold.
	OrExpansion
)

// OptimizerConfig carries the thresholds §4.L selects a strategy from.
type OptimizerConfig struct {
	UnionThreshold            int
	JoinThreshold             int
	MinSelectivityImprovement float64
}

// Plan is the chosen strategy for one extracted IN predicate.
type Plan struct {
	Field    string
	Values   []any
	Strategy Strategy
}

// AvailableIndexes reports, by field name, which fields have a usable
// index for the optimizer's indexUnion decision.
type AvailableIndexes map[string]bool

// SelectStrategies extracts every IN predicate from c and assigns each one
// a strategy per cfg and the set of fields with an available index.
//
// Field conditions outside any IN predicate are untouched by this pass —
// the optimizer only ever rewrites IN operators.
func SelectStrategies(c Condition, cfg OptimizerConfig, indexes AvailableIndexes) []Plan {
	preds := InPredicates(c)
	if len(preds) == 0 {
		return nil
	}
	plans := make([]Plan, 0, len(preds))
	for _, p := range preds {
		plans = append(plans, Plan{
			Field:    p.Field,
			Values:   p.Values,
			Strategy: selectOne(p, cfg, indexes),
		})
	}
	return plans
}

func selectOne(p ScalarFieldCondition, cfg OptimizerConfig, indexes AvailableIndexes) Strategy {
	n := len(p.Values)
	hasIndex := indexes[p.Field]

	if hasIndex && n <= cfg.UnionThreshold {
		return IndexUnion
	}
	if !hasIndex && n > cfg.UnionThreshold && n <= cfg.JoinThreshold {
		return InJoin
	}
	return OrExpansion
}

// ExpandOr rewrites a single "field IN values" predicate into an explicit
// disjunction of equality conditions, as orExpansion prescribes.
func ExpandOr(field string, values []any) Condition {
	children := make([]Condition, 0, len(values))
	for _, v := range values {
		children = append(children, Field(ScalarFieldCondition{Field: field, Operator: OpEq, Value: v}))
	}
	return Or(children...)
}
