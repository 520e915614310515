package dsl

import (
	"fmt"
	"strconv"
	"strings"
)

// Eval evaluates a compiled predicate tree against a row (a field->value
// map, typically a Diff row's Values or an Update's Before/After
// projection). Unknown/missing fields compare as absent, matching the
// dot-path lookup semantics fields are read with.
func Eval(p Predicate, row map[string]any) bool {
	if p == nil {
		return true
	}
	switch pr := p.(type) {
	case Leaf:
		return evalLeaf(pr, row)
	case And:
		for _, c := range pr.Children {
			if !Eval(c, row) {
				return false
			}
		}
		return true
	case Or:
		if len(pr.Children) == 0 {
			return true
		}
		for _, c := range pr.Children {
			if Eval(c, row) {
				return true
			}
		}
		return false
	case Not:
		return !Eval(pr.Child, row)
	default:
		return false
	}
}

// get performs a dot-path lookup into row, e.g. "meta.channel".
func get(row map[string]any, field string) (any, bool) {
	parts := strings.Split(field, ".")
	var cur any = row
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func evalLeaf(l Leaf, row map[string]any) bool {
	val, present := get(row, l.Field)

	switch l.Op {
	case IsNull:
		return !present || val == nil
	case NotNull:
		return present && val != nil
	}

	if !present || val == nil {
		return false
	}

	switch l.Op {
	case Eq:
		return compareEqual(val, l.Operand)
	case Neq:
		return !compareEqual(val, l.Operand)
	case Gt, Gte, Lt, Lte:
		a, aok := asFloat(val)
		b, bok := asFloat(l.Operand)
		if !aok || !bok {
			return false
		}
		switch l.Op {
		case Gt:
			return a > b
		case Gte:
			return a >= b
		case Lt:
			return a < b
		default:
			return a <= b
		}
	case In:
		return memberOf(l.Operand, val)
	case NotIn:
		return !memberOf(l.Operand, val)
	case Contains:
		s, sok := val.(string)
		sub, subok := l.Operand.(string)
		return sok && subok && strings.Contains(s, sub)
	case NotContains:
		s, sok := val.(string)
		sub, subok := l.Operand.(string)
		return !(sok && subok && strings.Contains(s, sub))
	case StartsWith:
		s, sok := val.(string)
		pre, preok := l.Operand.(string)
		return sok && preok && strings.HasPrefix(s, pre)
	case EndsWith:
		s, sok := val.(string)
		suf, sufok := l.Operand.(string)
		return sok && sufok && strings.HasSuffix(s, suf)
	case HasAny:
		return hasAny(val, l.Operand)
	case HasAll:
		return hasAll(val, l.Operand)
	default:
		return false
	}
}

func compareEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func memberOf(list any, val any) bool {
	s, ok := toSlice(list)
	if !ok {
		return false
	}
	for _, item := range s {
		if compareEqual(item, val) {
			return true
		}
	}
	return false
}

// hasAny reports whether the field's array value shares at least one
// element with operand's array.
func hasAny(fieldVal, operand any) bool {
	field, ok := toSlice(fieldVal)
	if !ok {
		return false
	}
	want, ok := toSlice(operand)
	if !ok {
		return false
	}
	for _, w := range want {
		for _, f := range field {
			if compareEqual(f, w) {
				return true
			}
		}
	}
	return false
}

// hasAll reports whether the field's array value contains every element of
// operand's array.
func hasAll(fieldVal, operand any) bool {
	field, ok := toSlice(fieldVal)
	if !ok {
		return false
	}
	want, ok := toSlice(operand)
	if !ok {
		return false
	}
	for _, w := range want {
		found := false
		for _, f := range field {
			if compareEqual(f, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
