package dsl

import (
	"encoding/json"
	"fmt"

	"github.com/driftlane/driftlane/internal/apierr"
)

// Compile parses, validates, normalizes, and builds a Spec from raw JSON
// bytes, per §4.H.
func Compile(raw []byte) (*Spec, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apierr.WithPath(apierr.DSLInvalid, "$", fmt.Errorf("invalid JSON: %w", err))
	}

	if err := validateStructure(doc); err != nil {
		return nil, err
	}

	spec := &Spec{}
	if v, ok := doc["dsl_version"].(string); ok {
		spec.DSLVersion = v
	}
	if v, ok := doc["strict"].(bool); ok {
		spec.Strict = v
	}
	if v, ok := doc["masks"].([]any); ok {
		for _, m := range v {
			if s, ok := m.(string); ok {
				spec.Masks = append(spec.Masks, s)
			}
		}
	}

	rawAssertions := doc["assertions"].([]any) // validated non-nil array of objects above

	for i, item := range rawAssertions {
		path := fmt.Sprintf("$.assertions[%d]", i)
		obj := item.(map[string]any)

		a := Assertion{
			DiffType: DiffType(obj["diff_type"].(string)),
			Entity:   obj["entity"].(string),
		}

		if rawWhere, ok := obj["where"]; ok {
			pred, err := buildWhere(rawWhere, path+".where")
			if err != nil {
				return nil, err
			}
			a.Where = pred
		}

		if rawCount, ok := obj["expected_count"]; ok {
			cr, err := normalizeCount(rawCount, path+".expected_count")
			if err != nil {
				return nil, err
			}
			a.ExpectedCount = cr
		}

		if rawChanges, ok := obj["expected_changes"]; ok {
			changes, err := buildExpectedChanges(rawChanges, path+".expected_changes")
			if err != nil {
				return nil, err
			}
			a.ExpectedChanges = changes
		}

		if rawIgnore, ok := obj["local_ignore"].([]any); ok {
			for _, v := range rawIgnore {
				if s, ok := v.(string); ok {
					a.LocalIgnore = append(a.LocalIgnore, s)
				}
			}
		}

		spec.Assertions = append(spec.Assertions, a)
	}

	return spec, nil
}

// buildWhere builds a predicate tree from a `where` node: a map whose keys
// are either combinators (and/or/not) or field names (implicitly ANDed
// together), per the shorthand rules in §4.H step 2.
func buildWhere(raw any, path string) (Predicate, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, apierr.WithPath(apierr.DSLInvalid, path, fmt.Errorf("where must be an object"))
	}

	var children []Predicate
	for key, val := range obj {
		switch key {
		case "and":
			list, ok := val.([]any)
			if !ok {
				return nil, apierr.WithPath(apierr.DSLInvalid, path+".and", fmt.Errorf("and must be an array"))
			}
			var sub []Predicate
			for i, item := range list {
				p, err := buildWhere(item, fmt.Sprintf("%s.and[%d]", path, i))
				if err != nil {
					return nil, err
				}
				sub = append(sub, p)
			}
			children = append(children, And{Children: sub})
		case "or":
			list, ok := val.([]any)
			if !ok {
				return nil, apierr.WithPath(apierr.DSLInvalid, path+".or", fmt.Errorf("or must be an array"))
			}
			var sub []Predicate
			for i, item := range list {
				p, err := buildWhere(item, fmt.Sprintf("%s.or[%d]", path, i))
				if err != nil {
					return nil, err
				}
				sub = append(sub, p)
			}
			children = append(children, Or{Children: sub})
		case "not":
			p, err := buildWhere(val, path+".not")
			if err != nil {
				return nil, err
			}
			children = append(children, Not{Child: p})
		default:
			leaves, err := buildFieldLeaves(key, val, path+"."+key)
			if err != nil {
				return nil, err
			}
			children = append(children, leaves...)
		}
	}

	switch len(children) {
	case 0:
		return And{}, nil
	case 1:
		return children[0], nil
	default:
		return And{Children: children}, nil
	}
}

// buildFieldLeaves expands one `where` field entry into one or more Leaf
// predicates: a bare scalar is shorthand for `eq`; an object maps operator
// names to operands, one leaf per pair (implicitly ANDed when there's more
// than one).
func buildFieldLeaves(field string, val any, path string) ([]Predicate, error) {
	obj, ok := val.(map[string]any)
	if !ok {
		// Shorthand: {field: scalar} -> {field: {eq: scalar}}.
		return []Predicate{Leaf{Field: field, Op: Eq, Operand: val}}, nil
	}

	var leaves []Predicate
	for opName, operand := range obj {
		op := Operator(opName)
		if !validOperators[op] {
			return nil, apierr.WithPath(apierr.DSLInvalid, path+"."+opName, fmt.Errorf("unknown operator %q", opName))
		}
		leaves = append(leaves, Leaf{Field: field, Op: op, Operand: operand})
	}
	return leaves, nil
}

// normalizeCount expands `expected_count: N` to `{min:N,max:N}`, or passes
// through an explicit {min?,max?} object.
func normalizeCount(raw any, path string) (*CountRange, error) {
	switch v := raw.(type) {
	case float64:
		n := int(v)
		return &CountRange{Min: &n, Max: intPtr(n)}, nil
	case map[string]any:
		cr := &CountRange{}
		if minV, ok := v["min"]; ok {
			f, ok := minV.(float64)
			if !ok {
				return nil, apierr.WithPath(apierr.DSLInvalid, path+".min", fmt.Errorf("min must be a number"))
			}
			n := int(f)
			cr.Min = &n
		}
		if maxV, ok := v["max"]; ok {
			f, ok := maxV.(float64)
			if !ok {
				return nil, apierr.WithPath(apierr.DSLInvalid, path+".max", fmt.Errorf("max must be a number"))
			}
			n := int(f)
			cr.Max = &n
		}
		return cr, nil
	default:
		return nil, apierr.WithPath(apierr.DSLInvalid, path, fmt.Errorf("expected_count must be a number or {min?,max?} object"))
	}
}

// buildExpectedChanges expands `expected_changes: {field: scalar}` to
// `{field: {to: {eq: scalar}}}`, or builds From/To predicates from an
// explicit {from?,to?} object per field.
func buildExpectedChanges(raw any, path string) (map[string]ChangeExpectation, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, apierr.WithPath(apierr.DSLInvalid, path, fmt.Errorf("expected_changes must be an object"))
	}

	out := make(map[string]ChangeExpectation, len(obj))
	for field, val := range obj {
		fieldPath := path + "." + field
		inner, ok := val.(map[string]any)
		if !ok {
			// Shorthand: {field: scalar} -> {field: {to: {eq: scalar}}}.
			leaves, err := buildFieldLeaves(field, val, fieldPath)
			if err != nil {
				return nil, err
			}
			out[field] = ChangeExpectation{To: combine(leaves)}
			continue
		}

		var ce ChangeExpectation
		if fromVal, ok := inner["from"]; ok {
			leaves, err := buildFieldLeaves(field, fromVal, fieldPath+".from")
			if err != nil {
				return nil, err
			}
			ce.From = combine(leaves)
		}
		if toVal, ok := inner["to"]; ok {
			leaves, err := buildFieldLeaves(field, toVal, fieldPath+".to")
			if err != nil {
				return nil, err
			}
			ce.To = combine(leaves)
		}
		out[field] = ce
	}
	return out, nil
}

func combine(leaves []Predicate) Predicate {
	switch len(leaves) {
	case 0:
		return And{}
	case 1:
		return leaves[0]
	default:
		return And{Children: leaves}
	}
}

func intPtr(n int) *int { return &n }
