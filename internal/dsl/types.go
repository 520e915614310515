// Package dsl compiles the JSON assertion specification into an internal,
// operator-normalized form: structural validation, shorthand expansion,
// then a tagged-variant predicate tree ready for O(1) dispatch by the
// assertion engine.
package dsl

// Operator is the fixed, exhaustive set of predicate operators. Compilation
// fails on anything outside this set.
type Operator string

const (
	Eq          Operator = "eq"
	Neq         Operator = "neq"
	Gt          Operator = "gt"
	Gte         Operator = "gte"
	Lt          Operator = "lt"
	Lte         Operator = "lte"
	In          Operator = "in"
	NotIn       Operator = "not_in"
	Contains    Operator = "contains"
	NotContains Operator = "not_contains"
	StartsWith  Operator = "starts_with"
	EndsWith    Operator = "ends_with"
	HasAny      Operator = "has_any"
	HasAll      Operator = "has_all"
	IsNull      Operator = "is_null"
	NotNull     Operator = "not_null"
)

var validOperators = map[Operator]bool{
	Eq: true, Neq: true, Gt: true, Gte: true, Lt: true, Lte: true,
	In: true, NotIn: true, Contains: true, NotContains: true,
	StartsWith: true, EndsWith: true, HasAny: true, HasAll: true,
	IsNull: true, NotNull: true,
}

// DiffType selects which bucket of a Diff an Assertion is evaluated
// against.
type DiffType string

const (
	Added     DiffType = "added"
	Removed   DiffType = "removed"
	Changed   DiffType = "changed"
	Unchanged DiffType = "unchanged"
)

// Predicate is a tagged variant over a leaf operator application or a
// boolean combinator, per the "polymorphism over predicates" design note:
// compile once into this tree, evaluate many times against rows.
type Predicate interface {
	predicate()
}

// Leaf is `{field: {op: operand}}`.
type Leaf struct {
	Field   string
	Op      Operator
	Operand any
}

func (Leaf) predicate() {}

// And is `{and: [...]}`.
type And struct{ Children []Predicate }

func (And) predicate() {}

// Or is `{or: [...]}`.
type Or struct{ Children []Predicate }

func (Or) predicate() {}

// Not is `{not: ...}`.
type Not struct{ Child Predicate }

func (Not) predicate() {}

// CountRange is the normalized form of expected_count: either bound may be
// nil.
type CountRange struct {
	Min *int
	Max *int
}

// ChangeExpectation is one field's entry in expected_changes: `from` sees
// the before value, `to` sees the after value.
type ChangeExpectation struct {
	From Predicate
	To   Predicate
}

// Assertion is one compiled assertion entry.
type Assertion struct {
	DiffType        DiffType
	Entity          string
	Where           Predicate // nil means "match everything"
	ExpectedCount   *CountRange
	ExpectedChanges map[string]ChangeExpectation
	LocalIgnore     []string
}

// Spec is the fully compiled assertion specification.
type Spec struct {
	DSLVersion string
	Strict     bool
	Masks      []string
	Assertions []Assertion
}
