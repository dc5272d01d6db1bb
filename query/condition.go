// Package query implements the query condition model (spec §4.K) and the
// IN-predicate optimizer (spec §4.L): a recursive sum type over field
// conditions and boolean combinators, walked the way opa/ast walks a
// closed set of term/expression node kinds.
package query

// Operator is a scalar field comparison.
type Operator int

const (
	OpEq Operator = iota
	OpNeq
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpBetween
	OpStartsWith
	OpIsNull
)

// ScalarFieldCondition compares one field against a comparand. Value holds
// the single-value operand (eq/neq/lt/le/gt/ge/startsWith); Values holds
// the multi-value operand (in); Low/High hold the between bounds.
type ScalarFieldCondition struct {
	Field    string
	Operator Operator
	Value    any
	Values   []any
	Low      any
	High     any
}

// Kind identifies which alternative of the Condition sum type is populated.
type Kind int

const (
	KindAlwaysTrue Kind = iota
	KindAlwaysFalse
	KindField
	KindConjunction
	KindDisjunction
	KindNegation
)

// Condition is the recursive sum type:
// AlwaysTrue | AlwaysFalse | Field(ScalarFieldCondition) |
// Conjunction([Condition]) | Disjunction([Condition]) | Negation(Condition).
//
// Only the field(s) matching Kind are meaningful: Field for KindField,
// Children for KindConjunction/KindDisjunction (≥2 elements) and
// KindNegation (exactly 1 element).
type Condition struct {
	Kind     Kind
	Field    ScalarFieldCondition
	Children []Condition
}

// AlwaysTrue returns the trivially-satisfied condition.
func AlwaysTrue() Condition { return Condition{Kind: KindAlwaysTrue} }

// AlwaysFalse returns the trivially-unsatisfiable condition.
func AlwaysFalse() Condition { return Condition{Kind: KindAlwaysFalse} }

// Field wraps a single scalar field condition.
func Field(f ScalarFieldCondition) Condition {
	return Condition{Kind: KindField, Field: f}
}

// And combines two or more conditions with logical AND. A single child
// collapses to that child; zero children is AlwaysTrue (the identity for
// AND).
func And(children ...Condition) Condition {
	switch len(children) {
	case 0:
		return AlwaysTrue()
	case 1:
		return children[0]
	default:
		return Condition{Kind: KindConjunction, Children: children}
	}
}

// Or combines two or more conditions with logical OR. A single child
// collapses to that child; zero children is AlwaysFalse (the identity for
// OR).
func Or(children ...Condition) Condition {
	switch len(children) {
	case 0:
		return AlwaysFalse()
	case 1:
		return children[0]
	default:
		return Condition{Kind: KindDisjunction, Children: children}
	}
}

// Not negates c.
func Not(c Condition) Condition {
	return Condition{Kind: KindNegation, Children: []Condition{c}}
}

// ContainsInPredicate reports whether c or any descendant is a Field
// condition with Operator == OpIn (structural recursion per spec §4.K).
func ContainsInPredicate(c Condition) bool {
	switch c.Kind {
	case KindField:
		return c.Field.Operator == OpIn
	case KindConjunction, KindDisjunction, KindNegation:
		for _, child := range c.Children {
			if ContainsInPredicate(child) {
				return true
			}
		}
	}
	return false
}

// InPredicateCount counts every Field condition in c's tree with
// Operator == OpIn.
func InPredicateCount(c Condition) int {
	switch c.Kind {
	case KindField:
		if c.Field.Operator == OpIn {
			return 1
		}
		return 0
	case KindConjunction, KindDisjunction, KindNegation:
		total := 0
		for _, child := range c.Children {
			total += InPredicateCount(child)
		}
		return total
	default:
		return 0
	}
}

// InPredicates collects every Field condition in c's tree with
// Operator == OpIn, in encounter order.
func InPredicates(c Condition) []ScalarFieldCondition {
	var out []ScalarFieldCondition
	collectInPredicates(c, &out)
	return out
}

func collectInPredicates(c Condition, out *[]ScalarFieldCondition) {
	switch c.Kind {
	case KindField:
		if c.Field.Operator == OpIn {
			*out = append(*out, c.Field)
		}
	case KindConjunction, KindDisjunction, KindNegation:
		for _, child := range c.Children {
			collectInPredicates(child, out)
		}
	}
}
