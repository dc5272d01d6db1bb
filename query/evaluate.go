package query

import "fmt"

// Evaluate evaluates c against a decoded record's field values, used by
// the executor (spec §4.N) as the residual filter applied after a plan's
// scan has narrowed the candidate set.
func Evaluate(c Condition, values map[string]any) bool {
	switch c.Kind {
	case KindAlwaysTrue:
		return true
	case KindAlwaysFalse:
		return false
	case KindField:
		return evaluateField(c.Field, values)
	case KindConjunction:
		for _, child := range c.Children {
			if !Evaluate(child, values) {
				return false
			}
		}
		return true
	case KindDisjunction:
		for _, child := range c.Children {
			if Evaluate(child, values) {
				return true
			}
		}
		return false
	case KindNegation:
		return !Evaluate(c.Children[0], values)
	default:
		return false
	}
}

func evaluateField(f ScalarFieldCondition, values map[string]any) bool {
	actual := values[f.Field]
	switch f.Operator {
	case OpIsNull:
		return actual == nil
	case OpEq:
		return compareEqual(actual, f.Value)
	case OpNeq:
		return !compareEqual(actual, f.Value)
	case OpLt:
		return compareOrdered(actual, f.Value) < 0
	case OpLe:
		return compareOrdered(actual, f.Value) <= 0
	case OpGt:
		return compareOrdered(actual, f.Value) > 0
	case OpGe:
		return compareOrdered(actual, f.Value) >= 0
	case OpBetween:
		return compareOrdered(actual, f.Low) >= 0 && compareOrdered(actual, f.High) <= 0
	case OpStartsWith:
		as, aok := actual.(string)
		ps, pok := f.Value.(string)
		return aok && pok && len(as) >= len(ps) && as[:len(ps)] == ps
	case OpIn:
		for _, v := range f.Values {
			if compareEqual(actual, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b) && sameKind(a, b)
}

func sameKind(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	default:
		return numeric(a) == numeric(b)
	}
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return -1
	}
}

// compareOrdered returns -1, 0, or 1 comparing a to b across the ordered
// field types the engine supports (numeric, string).
func compareOrdered(a, b any) int {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1
			case as > bs:
				return 1
			default:
				return 0
			}
		}
	}
	an, bn := numeric(a), numeric(b)
	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	default:
		return 0
	}
}
