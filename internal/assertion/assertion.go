// Package assertion evaluates a compiled DSL specification against a
// computed Diff, producing a pass/fail verdict, a score, and per-assertion
// failure messages, per §4.I.
package assertion

import (
	"fmt"
	"sort"

	"github.com/driftlane/driftlane/internal/differ"
	"github.com/driftlane/driftlane/internal/dsl"
)

// Failure is one failed assertion.
type Failure struct {
	AssertionIndex int    `json:"assertion_index"`
	Message        string `json:"message"`
}

// Score summarizes how many assertions passed.
type Score struct {
	Passed  int     `json:"passed"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// Result is the outcome of evaluating a Spec against a Diff.
type Result struct {
	Passed   bool      `json:"passed"`
	Failures []Failure `json:"failures"`
	Score    Score     `json:"score"`
}

// Evaluate checks every assertion in spec against diff and returns the
// aggregate verdict. Assertions are 1-indexed in failure messages to match
// how they'd be reported back to a human reading the spec.
func Evaluate(spec *dsl.Spec, diff *differ.Diff) *Result {
	var failures []Failure
	failed := map[int]bool{}

	add := func(idx int, format string, args ...any) {
		failed[idx] = true
		failures = append(failures, Failure{AssertionIndex: idx, Message: fmt.Sprintf(format, args...)})
	}

	for i, a := range spec.Assertions {
		idx := i + 1

		switch a.DiffType {
		case dsl.Added:
			matched := matchRows(filterRows(diff.Inserts, a.Entity), a.Where)
			checkCount(a, len(matched), idx, add)

		case dsl.Removed:
			matched := matchRows(filterRows(diff.Deletes, a.Entity), a.Where)
			checkCount(a, len(matched), idx, add)

		case dsl.Changed:
			var matched []differ.Update
			for _, u := range filterUpdates(diff.Updates, a.Entity) {
				if !(dsl.Eval(a.Where, u.After) || dsl.Eval(a.Where, u.Before)) {
					continue
				}
				changed := changedKeys(u, a.LocalIgnore)
				expectedKeys := changeKeys(a.ExpectedChanges)
				if spec.Strict && !subsetOf(changed, expectedKeys) {
					add(idx, "%s changed fields %v not subset of expected %v", a.Entity, sorted(changed), sorted(expectedKeys))
					continue
				}
				if changesMatch(u, changed, a.ExpectedChanges) {
					matched = append(matched, u)
				}
			}
			checkCount(a, len(matched), idx, add)

		case dsl.Unchanged:
			ins := matchRows(filterRows(diff.Inserts, a.Entity), a.Where)
			dels := matchRows(filterRows(diff.Deletes, a.Entity), a.Where)
			var ups []differ.Update
			for _, u := range filterUpdates(diff.Updates, a.Entity) {
				if dsl.Eval(a.Where, u.After) || dsl.Eval(a.Where, u.Before) {
					ups = append(ups, u)
				}
			}
			total := len(ins) + len(dels) + len(ups)
			if a.ExpectedCount == nil {
				if total != 0 {
					add(idx, "%s expected no changes but found %d", a.Entity, total)
				}
			} else if !countMatches(a.ExpectedCount, total) {
				add(idx, "%s expected count %v but got %d (unchanged)", a.Entity, a.ExpectedCount, total)
			}

		default:
			add(idx, "assertion has unknown diff_type %q", a.DiffType)
		}
	}

	total := len(spec.Assertions)
	passedCount := total - len(failed)
	if passedCount < 0 {
		passedCount = 0
	}
	percent := 100.0
	if total > 0 {
		percent = float64(passedCount) / float64(total) * 100.0
	}

	return &Result{
		Passed: len(failed) == 0,
		Failures: func() []Failure {
			if failures == nil {
				return []Failure{}
			}
			return failures
		}(),
		Score: Score{Passed: passedCount, Total: total, Percent: percent},
	}
}

// checkCount applies the default "at least one match" expectation for
// added/removed/changed assertions that don't declare expected_count.
func checkCount(a dsl.Assertion, actual, idx int, add func(int, string, ...any)) {
	if a.ExpectedCount == nil {
		if actual < 1 {
			add(idx, "%s expected at least 1 match but got %d", a.Entity, actual)
		}
		return
	}
	if !countMatches(a.ExpectedCount, actual) {
		add(idx, "%s expected count %v but got %d", a.Entity, a.ExpectedCount, actual)
	}
}

func countMatches(cr *dsl.CountRange, actual int) bool {
	if cr.Min != nil && actual < *cr.Min {
		return false
	}
	if cr.Max != nil && actual > *cr.Max {
		return false
	}
	return true
}

func filterRows(rows []differ.Row, entity string) []differ.Row {
	var out []differ.Row
	for _, r := range rows {
		if r.Entity == entity {
			out = append(out, r)
		}
	}
	return out
}

func filterUpdates(updates []differ.Update, entity string) []differ.Update {
	var out []differ.Update
	for _, u := range updates {
		if u.Entity == entity {
			out = append(out, u)
		}
	}
	return out
}

func matchRows(rows []differ.Row, where dsl.Predicate) []differ.Row {
	var out []differ.Row
	for _, r := range rows {
		if dsl.Eval(where, r.Values) {
			out = append(out, r)
		}
	}
	return out
}

// changedKeys narrows an update's changed fields (already masked against
// spec-wide masks at diff time) by the assertion's own local_ignore list.
func changedKeys(u differ.Update, localIgnore []string) map[string]bool {
	ignore := make(map[string]bool, len(localIgnore))
	for _, f := range localIgnore {
		ignore[f] = true
	}
	out := make(map[string]bool, len(u.ChangedFields))
	for _, f := range u.ChangedFields {
		if !ignore[f] {
			out[f] = true
		}
	}
	return out
}

func changeKeys(changes map[string]dsl.ChangeExpectation) map[string]bool {
	out := make(map[string]bool, len(changes))
	for k := range changes {
		out[k] = true
	}
	return out
}

func subsetOf(sub, super map[string]bool) bool {
	for k := range sub {
		if !super[k] {
			return false
		}
	}
	return true
}

// changesMatch checks that every declared expected_changes field actually
// changed and that its from/to predicates hold against the update's before
// and after projections.
func changesMatch(u differ.Update, changed map[string]bool, expected map[string]dsl.ChangeExpectation) bool {
	for field, ce := range expected {
		if !changed[field] {
			return false
		}
		if ce.From != nil && !dsl.Eval(ce.From, u.Before) {
			return false
		}
		if ce.To != nil && !dsl.Eval(ce.To, u.After) {
			return false
		}
	}
	return true
}

func sorted(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
