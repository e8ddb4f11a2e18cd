package policy

import "fmt"

// Predicate is one of the three condition shapes a policy document may
// carry: a boolean equality, a numeric range or a list membership.
type Predicate interface {
	// failures returns the failed-condition labels for the given attribute
	// value, empty when the predicate holds. present is false when the
	// context has no value for the key; every predicate fails on an absent
	// value.
	failures(key string, value any, present bool) []string
}

// BoolPredicate requires the attribute to equal Want exactly.
type BoolPredicate struct {
	Want bool
}

func (p BoolPredicate) failures(key string, value any, present bool) []string {
	if b, ok := value.(bool); present && ok && b == p.Want {
		return nil
	}
	return []string{key}
}

// RangePredicate requires a numeric attribute within [Min, Max]. A missing
// or non-numeric value fails every bound the predicate carries, so the
// caller sees which side of the range the request needed.
type RangePredicate struct {
	Min *float64
	Max *float64
}

func (p RangePredicate) failures(key string, value any, present bool) []string {
	num, numeric := toFloat(value)
	ok := present && numeric

	var failed []string
	if p.Max != nil && (!ok || num > *p.Max) {
		failed = append(failed, fmt.Sprintf("%s (exceeds max)", key))
	}
	if p.Min != nil && (!ok || num < *p.Min) {
		failed = append(failed, fmt.Sprintf("%s (below min)", key))
	}
	return failed
}

// ListPredicate requires at least one of its elements to appear in the
// attribute value, which is treated as a set. A scalar attribute is a
// one-element set.
type ListPredicate struct {
	Any []any
}

func (p ListPredicate) failures(key string, value any, present bool) []string {
	if !present {
		return []string{key}
	}
	have := attributeSet(value)
	for _, want := range p.Any {
		for _, got := range have {
			if looseEqual(want, got) {
				return nil
			}
		}
	}
	return []string{key}
}

func attributeSet(value any) []any {
	switch v := value.(type) {
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []any:
		return v
	default:
		return []any{v}
	}
}

// looseEqual compares condition and context values. Numbers compare as
// numbers regardless of Go type; everything else compares by interface
// equality.
func looseEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
